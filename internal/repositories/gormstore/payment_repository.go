package gormstore

import (
	"context"
	"time"

	"gorm.io/gorm"

	domain "github.com/houseofkezura/backend-sub000/internal/domain"
	"github.com/houseofkezura/backend-sub000/internal/platform/database"
)

type paymentRepository struct {
	s *Store
}

// Create inserts the payment and its mirrored ledger transaction together.
func (r paymentRepository) Create(ctx context.Context, payment domain.Payment, txn domain.Transaction) (domain.Payment, error) {
	now := r.s.now()
	cols := domain.EncodePurpose(payment.Purpose)
	model := paymentModel{
		ID:                payment.ID,
		Reference:         payment.Reference,
		ProviderReference: payment.ProviderReference,
		Provider:          payment.Provider,
		UserID:            nullable(payment.UserID),
		Email:             payment.Email,
		Amount:            payment.Amount,
		Currency:          payment.Currency,
		Status:            string(payment.Status),
		Purpose:           cols.Kind,
		OrderID:           nullable(cols.OrderID),
		SubscriptionID:    nullable(cols.SubscriptionID),
		GuestToken:        nullable(cols.GuestToken),
		AuthorizationURL:  payment.AuthorizationURL,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if model.ID == "" {
		model.ID = r.s.newID()
	}
	if model.Status == "" {
		model.Status = string(domain.PaymentStatusPending)
	}

	txn.PaymentID = model.ID
	if txn.Reference == "" {
		txn.Reference = model.Reference
	}
	ledger := r.toTransactionModel(txn, now)

	err := r.s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		return tx.Create(&ledger).Error
	})
	if err != nil {
		return domain.Payment{}, database.WrapError("payments.create", err)
	}
	return model.toDomain()
}

func (r paymentRepository) FindByReference(ctx context.Context, reference string) (domain.Payment, error) {
	var model paymentModel
	if err := r.s.locked(ctx).Where("reference = ?", reference).Take(&model).Error; err != nil {
		return domain.Payment{}, database.WrapError("payments.find", err)
	}
	payment, err := model.toDomain()
	if err != nil {
		return domain.Payment{}, database.WrapError("payments.decode", err)
	}
	return payment, nil
}

func (r paymentRepository) TransitionStatus(ctx context.Context, reference string, from domain.PaymentStatus, version int, to domain.PaymentStatus, at time.Time) error {
	updates := map[string]any{
		"status":     string(to),
		"version":    gorm.Expr("version + 1"),
		"updated_at": at.UTC(),
	}
	if to == domain.PaymentStatusCompleted {
		updates["completed_at"] = at.UTC()
	}
	res := r.s.conn(ctx).Model(&paymentModel{}).
		Where("reference = ? AND status = ? AND version = ?", reference, string(from), version).
		Updates(updates)
	if res.Error != nil {
		return database.WrapError("payments.transition", res.Error)
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := r.s.conn(ctx).Model(&paymentModel{}).Where("reference = ?", reference).Count(&count).Error; err != nil {
			return database.WrapError("payments.transition", err)
		}
		if count == 0 {
			return database.NotFound("payments.transition", "payment %s not found", reference)
		}
		return database.Conflict("payments.transition", "payment %s moved past %s/v%d", reference, from, version)
	}

	err := r.s.conn(ctx).Model(&transactionModel{}).
		Where("reference = ?", reference).
		Updates(map[string]any{"status": string(to), "updated_at": at.UTC()}).Error
	return database.WrapError("payments.transition_ledger", err)
}

func (r paymentRepository) UpdateGatewayDetails(ctx context.Context, reference, providerReference, authorizationURL string) error {
	updates := map[string]any{"updated_at": r.s.now()}
	if providerReference != "" {
		updates["provider_reference"] = providerReference
	}
	if authorizationURL != "" {
		updates["authorization_url"] = authorizationURL
	}
	res := r.s.conn(ctx).Model(&paymentModel{}).Where("reference = ?", reference).Updates(updates)
	if res.Error != nil {
		return database.WrapError("payments.update_gateway", res.Error)
	}
	if res.RowsAffected == 0 {
		return database.NotFound("payments.update_gateway", "payment %s not found", reference)
	}
	return nil
}

func (r paymentRepository) FindTransaction(ctx context.Context, reference string) (domain.Transaction, error) {
	var model transactionModel
	if err := r.s.locked(ctx).Where("reference = ?", reference).Take(&model).Error; err != nil {
		return domain.Transaction{}, database.WrapError("transactions.find", err)
	}
	return model.toDomain(), nil
}

func (r paymentRepository) CreateTransaction(ctx context.Context, txn domain.Transaction) (domain.Transaction, error) {
	model := r.toTransactionModel(txn, r.s.now())
	if err := r.s.conn(ctx).Create(&model).Error; err != nil {
		return domain.Transaction{}, database.WrapError("transactions.create", err)
	}
	return model.toDomain(), nil
}

func (r paymentRepository) UpdateTransactionStatus(ctx context.Context, reference string, status domain.PaymentStatus, narration string) error {
	updates := map[string]any{"status": string(status), "updated_at": r.s.now()}
	if narration != "" {
		updates["narration"] = narration
	}
	res := r.s.conn(ctx).Model(&transactionModel{}).Where("reference = ?", reference).Updates(updates)
	if res.Error != nil {
		return database.WrapError("transactions.update_status", res.Error)
	}
	if res.RowsAffected == 0 {
		return database.NotFound("transactions.update_status", "transaction %s not found", reference)
	}
	return nil
}

func (r paymentRepository) toTransactionModel(txn domain.Transaction, now time.Time) transactionModel {
	model := transactionModel{
		ID:        txn.ID,
		Reference: txn.Reference,
		PaymentID: nullable(txn.PaymentID),
		UserID:    nullable(txn.UserID),
		Kind:      string(txn.Kind),
		Amount:    txn.Amount,
		Currency:  txn.Currency,
		Status:    string(txn.Status),
		Narration: txn.Narration,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if model.ID == "" {
		model.ID = r.s.newID()
	}
	if model.Kind == "" {
		model.Kind = string(domain.TransactionKindPayment)
	}
	if model.Status == "" {
		model.Status = string(domain.PaymentStatusPending)
	}
	return model
}
