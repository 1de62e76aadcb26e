package services

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"strings"

	domain "github.com/houseofkezura/backend-sub000/internal/domain"
	"github.com/houseofkezura/backend-sub000/internal/repositories"
)

const (
	guestTokenLength    = 32
	maxGuestTokenLength = 64
	maxCartLineQuantity = 999
	guestTokenAlphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// CartServiceDeps wires the dependencies required by the cart service.
type CartServiceDeps struct {
	Carts      repositories.CartRepository
	Variants   repositories.VariantRepository
	UnitOfWork repositories.UnitOfWork
	// TokenGenerator mints guest tokens; defaults to 32 random alphanumeric characters.
	TokenGenerator func() (string, error)
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

type cartService struct {
	carts    repositories.CartRepository
	variants repositories.VariantRepository
	uow      repositories.UnitOfWork
	newToken func() (string, error)
	logger   logFunc
}

// NewCartService constructs a CartService validating required dependencies.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart service: cart repository is required")
	}
	if deps.Variants == nil {
		return nil, errors.New("cart service: variant repository is required")
	}
	if deps.UnitOfWork == nil {
		return nil, errors.New("cart service: unit of work is required")
	}
	gen := deps.TokenGenerator
	if gen == nil {
		gen = NewGuestToken
	}
	return &cartService{
		carts:    deps.Carts,
		variants: deps.Variants,
		uow:      deps.UnitOfWork,
		newToken: gen,
		logger:   loggerOrNoop(deps.Logger),
	}, nil
}

// NewGuestToken returns a cryptographically random alphanumeric guest token.
func NewGuestToken() (string, error) {
	max := big.NewInt(int64(len(guestTokenAlphabet)))
	var b strings.Builder
	b.Grow(guestTokenLength)
	for i := 0; i < guestTokenLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate guest token: %w", err)
		}
		b.WriteByte(guestTokenAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// ValidGuestToken reports whether token has the shape of a guest token.
func ValidGuestToken(token string) bool {
	if token == "" || len(token) > maxGuestTokenLength {
		return false
	}
	for i := 0; i < len(token); i++ {
		if !strings.ContainsRune(guestTokenAlphabet, rune(token[i])) {
			return false
		}
	}
	return true
}

func normaliseCaller(caller Caller) (Caller, error) {
	caller.UserID = strings.TrimSpace(caller.UserID)
	caller.GuestToken = strings.TrimSpace(caller.GuestToken)
	if caller.GuestToken != "" && !ValidGuestToken(caller.GuestToken) {
		return Caller{}, fmt.Errorf("%w: malformed guest token", ErrCartInvalidInput)
	}
	return caller, nil
}

// Resolve returns the caller's cart, creating, migrating or merging as needed.
func (s *cartService) Resolve(ctx context.Context, caller Caller) (domain.Cart, error) {
	caller, err := normaliseCaller(caller)
	if err != nil {
		return domain.Cart{}, err
	}
	var cart domain.Cart
	err = s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		var resolveErr error
		cart, resolveErr = s.resolve(txCtx, caller)
		return resolveErr
	})
	if err != nil {
		return domain.Cart{}, s.translateError(err)
	}
	return cart, nil
}

func (s *cartService) resolve(ctx context.Context, caller Caller) (domain.Cart, error) {
	if caller.IsAuthenticated() {
		return s.resolveForUser(ctx, caller)
	}
	if caller.GuestToken != "" {
		cart, err := s.carts.FindByGuestToken(ctx, caller.GuestToken)
		switch {
		case err == nil:
			if cart.UserID != "" {
				return domain.Cart{}, ErrCartForbidden
			}
			return cart, nil
		case !isNotFound(err):
			return domain.Cart{}, err
		}
		return s.createGuestCart(ctx, caller.GuestToken)
	}

	token, err := s.newToken()
	if err != nil {
		return domain.Cart{}, err
	}
	return s.createGuestCart(ctx, token)
}

func (s *cartService) createGuestCart(ctx context.Context, token string) (domain.Cart, error) {
	cart, err := s.carts.Create(ctx, domain.Cart{GuestToken: token})
	if err != nil && isConflict(err) {
		// Lost a race with a concurrent first request for the same token.
		return s.carts.FindByGuestToken(ctx, token)
	}
	return cart, err
}

func (s *cartService) resolveForUser(ctx context.Context, caller Caller) (domain.Cart, error) {
	userCart, err := s.carts.FindByUserID(ctx, caller.UserID)
	hasUserCart := err == nil
	if err != nil && !isNotFound(err) {
		return domain.Cart{}, err
	}

	if caller.GuestToken != "" {
		guestCart, err := s.carts.FindByGuestToken(ctx, caller.GuestToken)
		switch {
		case err == nil && guestCart.ID != userCart.ID && guestCart.UserID == "":
			if !hasUserCart {
				if err := s.carts.SetOwner(ctx, guestCart.ID, caller.UserID, ""); err != nil {
					return domain.Cart{}, err
				}
				s.logger(ctx, "cart.migrated", map[string]any{"cartID": guestCart.ID, "userID": caller.UserID})
				return s.carts.FindByID(ctx, guestCart.ID)
			}
			if err := s.merge(ctx, guestCart, userCart); err != nil {
				return domain.Cart{}, err
			}
			userCart, err = s.carts.FindByID(ctx, userCart.ID)
			if err != nil {
				return domain.Cart{}, err
			}
		case err != nil && !isNotFound(err):
			return domain.Cart{}, err
		}
	}

	if !hasUserCart {
		created, err := s.carts.Create(ctx, domain.Cart{UserID: caller.UserID})
		if err != nil {
			return domain.Cart{}, err
		}
		return created, nil
	}

	if userCart.UserID != caller.UserID || userCart.GuestToken != "" {
		s.logger(ctx, "cart.integrity_repaired", map[string]any{
			"severity":   "error",
			"cartID":     userCart.ID,
			"userID":     caller.UserID,
			"cartUserID": userCart.UserID,
			"hadGuest":   userCart.GuestToken != "",
		})
		if err := s.carts.SetOwner(ctx, userCart.ID, caller.UserID, ""); err != nil {
			return domain.Cart{}, err
		}
		userCart.UserID = caller.UserID
		userCart.GuestToken = ""
	}
	return userCart, nil
}

// merge folds the guest cart lines into the user cart and deletes the guest cart.
func (s *cartService) merge(ctx context.Context, guest, user domain.Cart) error {
	byVariant := make(map[string]domain.CartItem, len(user.Items))
	for _, item := range user.Items {
		byVariant[item.VariantID] = item
	}

	summed, moved := 0, 0
	for _, item := range guest.Items {
		if existing, ok := byVariant[item.VariantID]; ok {
			existing.Quantity += item.Quantity
			saved, err := s.carts.SaveItem(ctx, existing)
			if err != nil {
				return err
			}
			byVariant[item.VariantID] = saved
			if err := s.carts.DeleteItem(ctx, item.ID); err != nil {
				return err
			}
			summed++
			continue
		}
		if err := s.carts.MoveItem(ctx, item.ID, user.ID); err != nil {
			return err
		}
		item.CartID = user.ID
		byVariant[item.VariantID] = item
		moved++
	}

	if err := s.carts.Delete(ctx, guest.ID); err != nil {
		return err
	}
	s.logger(ctx, "cart.merged", map[string]any{
		"guestCartID": guest.ID,
		"userCartID":  user.ID,
		"summed":      summed,
		"moved":       moved,
	})
	return nil
}

// AddItem adds a variant to the caller's cart after an advisory stock check.
func (s *cartService) AddItem(ctx context.Context, caller Caller, cmd AddCartItemCommand) (domain.Cart, error) {
	variantID := strings.TrimSpace(cmd.VariantID)
	if variantID == "" {
		return domain.Cart{}, fmt.Errorf("%w: variant id is required", ErrCartInvalidInput)
	}
	if cmd.Quantity < 1 || cmd.Quantity > maxCartLineQuantity {
		return domain.Cart{}, fmt.Errorf("%w: quantity must be between 1 and %d", ErrCartInvalidInput, maxCartLineQuantity)
	}
	caller, err := normaliseCaller(caller)
	if err != nil {
		return domain.Cart{}, err
	}

	var cart domain.Cart
	err = s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		resolved, err := s.resolve(txCtx, caller)
		if err != nil {
			return err
		}
		variant, err := s.variants.FindByID(txCtx, variantID)
		if err != nil {
			if isNotFound(err) {
				return ErrCartVariantNotFound
			}
			return err
		}

		line := domain.CartItem{CartID: resolved.ID, VariantID: variant.ID, UnitPrice: variant.Price}
		for _, item := range resolved.Items {
			if item.VariantID == variant.ID {
				line = item
				break
			}
		}
		requested := line.Quantity + cmd.Quantity
		if requested > maxCartLineQuantity {
			return fmt.Errorf("%w: quantity must not exceed %d", ErrCartInvalidInput, maxCartLineQuantity)
		}
		if variant.Stock < requested {
			return fmt.Errorf("%w: %w", ErrCartInsufficientStock, repositories.NewInsufficientStockError(variant.ID, requested, variant.Stock))
		}
		line.Quantity = requested
		if _, err := s.carts.SaveItem(txCtx, line); err != nil {
			return err
		}
		cart, err = s.carts.FindByID(txCtx, resolved.ID)
		return err
	})
	if err != nil {
		return domain.Cart{}, s.translateError(err)
	}
	return cart, nil
}

// UpdateItem sets a line quantity after proving the caller owns the cart.
func (s *cartService) UpdateItem(ctx context.Context, caller Caller, cmd UpdateCartItemCommand) (domain.Cart, error) {
	itemID := strings.TrimSpace(cmd.ItemID)
	if itemID == "" {
		return domain.Cart{}, fmt.Errorf("%w: item id is required", ErrCartInvalidInput)
	}
	if cmd.Quantity < 0 || cmd.Quantity > maxCartLineQuantity {
		return domain.Cart{}, fmt.Errorf("%w: quantity must be between 0 and %d", ErrCartInvalidInput, maxCartLineQuantity)
	}
	caller, err := normaliseCaller(caller)
	if err != nil {
		return domain.Cart{}, err
	}

	var cart domain.Cart
	err = s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		item, owned, err := s.ownedItem(txCtx, caller, itemID)
		if err != nil {
			return err
		}
		if cmd.Quantity == 0 {
			if err := s.carts.DeleteItem(txCtx, item.ID); err != nil {
				return err
			}
		} else {
			if cmd.Quantity > item.Quantity {
				variant, err := s.variants.FindByID(txCtx, item.VariantID)
				if err != nil {
					if isNotFound(err) {
						return ErrCartVariantNotFound
					}
					return err
				}
				if variant.Stock < cmd.Quantity {
					return fmt.Errorf("%w: %w", ErrCartInsufficientStock, repositories.NewInsufficientStockError(variant.ID, cmd.Quantity, variant.Stock))
				}
			}
			item.Quantity = cmd.Quantity
			if _, err := s.carts.SaveItem(txCtx, item); err != nil {
				return err
			}
		}
		cart, err = s.carts.FindByID(txCtx, owned.ID)
		return err
	})
	if err != nil {
		return domain.Cart{}, s.translateError(err)
	}
	return cart, nil
}

// RemoveItem deletes a line after proving the caller owns the cart.
func (s *cartService) RemoveItem(ctx context.Context, caller Caller, itemID string) (domain.Cart, error) {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return domain.Cart{}, fmt.Errorf("%w: item id is required", ErrCartInvalidInput)
	}
	caller, err := normaliseCaller(caller)
	if err != nil {
		return domain.Cart{}, err
	}

	var cart domain.Cart
	err = s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		item, owned, err := s.ownedItem(txCtx, caller, itemID)
		if err != nil {
			return err
		}
		if err := s.carts.DeleteItem(txCtx, item.ID); err != nil {
			return err
		}
		cart, err = s.carts.FindByID(txCtx, owned.ID)
		return err
	})
	if err != nil {
		return domain.Cart{}, s.translateError(err)
	}
	return cart, nil
}

func (s *cartService) ownedItem(ctx context.Context, caller Caller, itemID string) (domain.CartItem, domain.Cart, error) {
	item, err := s.carts.FindItem(ctx, itemID)
	if err != nil {
		return domain.CartItem{}, domain.Cart{}, err
	}
	cart, err := s.carts.FindByID(ctx, item.CartID)
	if err != nil {
		return domain.CartItem{}, domain.Cart{}, err
	}
	if !ownsCart(caller, cart) {
		s.logger(ctx, "cart.forbidden", map[string]any{"cartID": cart.ID, "itemID": itemID, "userID": caller.UserID})
		return domain.CartItem{}, domain.Cart{}, ErrCartForbidden
	}
	return item, cart, nil
}

// ownsCart checks user ownership for user carts and token equality for guest carts.
func ownsCart(caller Caller, cart domain.Cart) bool {
	if cart.UserID != "" {
		return caller.UserID != "" && caller.UserID == cart.UserID
	}
	if cart.GuestToken == "" || caller.GuestToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(caller.GuestToken), []byte(cart.GuestToken)) == 1
}

func (s *cartService) translateError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrCartInvalidInput),
		errors.Is(err, ErrCartForbidden),
		errors.Is(err, ErrCartVariantNotFound),
		errors.Is(err, ErrCartInsufficientStock),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	case isNotFound(err):
		return fmt.Errorf("%w: %v", ErrCartNotFound, err)
	case isUnavailable(err):
		return fmt.Errorf("%w: %v", ErrCartUnavailable, err)
	default:
		return fmt.Errorf("cart: %w", err)
	}
}
