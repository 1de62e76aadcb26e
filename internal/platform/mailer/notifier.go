package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"strings"
	texttemplate "text/template"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/houseofkezura/backend-sub000/internal/domain"
)

const (
	orderConfirmationTemplate = "order_confirmation"
	statusChangedTemplate     = "status_changed"
	welcomeTemplate           = "welcome"
)

var htmlTemplates = template.Must(template.New("mail").Parse(`
{{define "order_confirmation"}}<p>Hi {{.Name}},</p>
<p>Thank you for shopping with {{.Brand}}. We have received payment for order <strong>{{.OrderID}}</strong>.</p>
<table>{{range .Items}}<tr><td>{{.Quantity}} x {{.Name}}</td><td>{{.Total}}</td></tr>{{end}}
<tr><td>Shipping</td><td>{{.Shipping}}</td></tr>{{if .HasDiscount}}
<tr><td>Loyalty discount</td><td>-{{.Discount}}</td></tr>{{end}}
<tr><td><strong>Total</strong></td><td><strong>{{.Total}}</strong></td></tr></table>
<p><a href="{{.OrderURL}}">View your order</a></p>{{end}}
{{define "status_changed"}}<p>Hi {{.Name}},</p>
<p>Your order <strong>{{.OrderID}}</strong> is now <strong>{{.Status}}</strong>.</p>
<p><a href="{{.OrderURL}}">Track your order</a></p>{{end}}
{{define "welcome"}}<p>Hi {{.Name}},</p>
<p>We created a {{.Brand}} account for {{.Email}} so you can track order {{.OrderID}} and earn loyalty points.</p>
<p><a href="{{.ResetURL}}">Set your password</a> to sign in.</p>{{end}}
`))

var textTemplates = texttemplate.Must(texttemplate.New("mail").Parse(`
{{define "order_confirmation"}}Hi {{.Name}},

Thank you for shopping with {{.Brand}}. We have received payment for order {{.OrderID}}.
{{range .Items}}
{{.Quantity}} x {{.Name}}: {{.Total}}{{end}}
Shipping: {{.Shipping}}{{if .HasDiscount}}
Loyalty discount: -{{.Discount}}{{end}}
Total: {{.Total}}

View your order: {{.OrderURL}}{{end}}
{{define "status_changed"}}Hi {{.Name}},

Your order {{.OrderID}} is now {{.Status}}.

Track your order: {{.OrderURL}}{{end}}
{{define "welcome"}}Hi {{.Name}},

We created a {{.Brand}} account for {{.Email}} so you can track order {{.OrderID}} and earn loyalty points.

Set your password: {{.ResetURL}}{{end}}
`))

// NotifierConfig configures the transactional email notifier.
type NotifierConfig struct {
	Brand         string
	StorefrontURL string
}

// Notifier renders and sends customer email for order lifecycle events.
type Notifier struct {
	sender     Sender
	brand      string
	storefront string
	printer    *message.Printer
}

// NewNotifier constructs a Notifier.
func NewNotifier(sender Sender, cfg NotifierConfig) (*Notifier, error) {
	if sender == nil {
		return nil, errors.New("mailer: sender is required")
	}
	brand := strings.TrimSpace(cfg.Brand)
	if brand == "" {
		brand = "House of Kezura"
	}
	return &Notifier{
		sender:     sender,
		brand:      brand,
		storefront: strings.TrimRight(strings.TrimSpace(cfg.StorefrontURL), "/"),
		printer:    message.NewPrinter(language.English),
	}, nil
}

type itemView struct {
	Name     string
	Quantity int
	Total    string
}

type mailView struct {
	Brand       string
	Name        string
	Email       string
	OrderID     string
	Status      string
	Items       []itemView
	Shipping    string
	Discount    string
	HasDiscount bool
	Total       string
	OrderURL    string
	ResetURL    string
}

// OrderConfirmation implements services.Notifier.
func (n *Notifier) OrderConfirmation(ctx context.Context, order domain.Order) error {
	view := n.orderView(order)
	for _, item := range order.Items {
		view.Items = append(view.Items, itemView{
			Name:     item.Name,
			Quantity: item.Quantity,
			Total:    n.money(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))), order.Currency),
		})
	}
	return n.send(ctx, order.Email, fmt.Sprintf("Your %s order %s is confirmed", n.brand, order.ID), orderConfirmationTemplate, view)
}

// OrderStatusChanged implements services.Notifier.
func (n *Notifier) OrderStatusChanged(ctx context.Context, order domain.Order, previous domain.OrderStatus) error {
	view := n.orderView(order)
	return n.send(ctx, order.Email, fmt.Sprintf("Order %s is %s", order.ID, view.Status), statusChangedTemplate, view)
}

// Welcome implements services.Notifier.
func (n *Notifier) Welcome(ctx context.Context, user domain.User, order domain.Order) error {
	view := n.orderView(order)
	if name := strings.TrimSpace(user.FirstName); name != "" {
		view.Name = name
	}
	view.Email = user.Email
	view.ResetURL = n.storefront + "/forgot-password"
	return n.send(ctx, user.Email, "Welcome to "+n.brand, welcomeTemplate, view)
}

func (n *Notifier) orderView(order domain.Order) mailView {
	name := strings.TrimSpace(order.ShippingAddress.FirstName)
	if name == "" {
		name = strings.TrimSpace(order.CustomerName)
	}
	if name == "" {
		name = "there"
	}
	return mailView{
		Brand:       n.brand,
		Name:        name,
		Email:       order.Email,
		OrderID:     order.ID,
		Status:      strings.ReplaceAll(string(order.Status), "_", " "),
		Shipping:    n.money(order.ShippingCost, order.Currency),
		Discount:    n.money(order.Discount, order.Currency),
		HasDiscount: order.Discount.IsPositive(),
		Total:       n.money(order.Total, order.Currency),
		OrderURL:    n.storefront + "/orders/" + order.ID,
	}
}

func (n *Notifier) money(amount decimal.Decimal, code string) string {
	unit, err := currency.ParseISO(code)
	if err != nil {
		unit = currency.MustParseISO(domain.DefaultCurrency)
	}
	value, _ := amount.Round(2).Float64()
	symbol := n.printer.Sprint(currency.NarrowSymbol(unit))
	return symbol + n.printer.Sprint(number.Decimal(value, number.Scale(2)))
}

func (n *Notifier) send(ctx context.Context, to, subject, name string, view mailView) error {
	if strings.TrimSpace(to) == "" {
		return errors.New("mailer: recipient is required")
	}
	var html, text bytes.Buffer
	if err := htmlTemplates.ExecuteTemplate(&html, name, view); err != nil {
		return fmt.Errorf("mailer: render %s: %w", name, err)
	}
	if err := textTemplates.ExecuteTemplate(&text, name, view); err != nil {
		return fmt.Errorf("mailer: render %s: %w", name, err)
	}
	return n.sender.Send(ctx, Message{
		To:      to,
		Subject: subject,
		HTML:    strings.TrimSpace(html.String()),
		Text:    strings.TrimSpace(text.String()),
	})
}
