package domain

import (
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/text/currency"
)

// ErrCurrencyMismatch is returned when arithmetic mixes two currencies.
// Mixing currencies is a programming error, never a recoverable condition.
var ErrCurrencyMismatch = errors.New("currency mismatch")

// Money is an amount in integer minor units (øre, cents) of a single
// currency. Floats are never used for money.
type Money struct {
	Amount   int64
	Currency currency.Unit
}

func NewMoney(amount int64, unit currency.Unit) Money {
	return Money{Amount: amount, Currency: unit}
}

// MustParseMoney builds Money from an ISO 4217 code, panicking on a bad code.
// For fixed codes in wiring and tests.
func MustParseMoney(amount int64, code string) Money {
	unit, err := currency.ParseISO(code)
	if err != nil {
		panic(fmt.Sprintf("invalid currency code %q: %v", code, err))
	}
	return Money{Amount: amount, Currency: unit}
}

func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("add %v to %v: %w", other.Currency, m.Currency, ErrCurrencyMismatch)
	}
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}, nil
}

func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("subtract %v from %v: %w", other.Currency, m.Currency, ErrCurrencyMismatch)
	}
	return Money{Amount: m.Amount - other.Amount, Currency: m.Currency}, nil
}

// Mul scales the amount by an integer factor. Quantity scaling only, there is
// no fractional multiplication on Money.
func (m Money) Mul(factor int64) Money {
	return Money{Amount: m.Amount * factor, Currency: m.Currency}
}

func (m Money) IsZero() bool {
	return m.Amount == 0
}

func (m Money) String() string {
	return fmt.Sprintf("%d %s", m.Amount, m.Currency)
}

type moneyJSON struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Amount: m.Amount, Currency: m.Currency.String()})
}

func (m *Money) UnmarshalJSON(data []byte) error {
	var raw moneyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	unit, err := currency.ParseISO(raw.Currency)
	if err != nil {
		return fmt.Errorf("unmarshal money currency %q: %w", raw.Currency, err)
	}
	m.Amount = raw.Amount
	m.Currency = unit
	return nil
}
