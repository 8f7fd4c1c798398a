package session

import (
	"sync"

	"github.com/go-playground/validator/v10"
)

// Kind tags a notification for styling. The set is open, these four are
// the ones the site renders today.
type Kind string

const (
	KindInfo    Kind = "info"
	KindSuccess Kind = "success"
	KindWarning Kind = "warning"
	KindError   Kind = "error"
)

// Icon returns the emoji shown in front of the notification title.
func (k Kind) Icon() string {
	switch k {
	case KindSuccess:
		return "✅"
	case KindWarning:
		return "⚠️"
	case KindInfo:
		return "ℹ️"
	case KindError:
		return "❌"
	default:
		return "📱"
	}
}

// Notification is the single value a session mailbox can hold.
type Notification struct {
	Kind    Kind   `json:"kind" validate:"required,lowercase,alpha,max=32"`
	Title   string `json:"title" validate:"required,max=200"`
	Message string `json:"message" validate:"max=2000"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks the notification before it is stored.
func (n Notification) Validate() error {
	return validatorInstance().Struct(n)
}
