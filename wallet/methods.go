package wallet

import (
	"context"
	"fmt"
	"unicode"
)

// =============================================================================
// PAYMENT METHODS - Saved cards and bank accounts
// =============================================================================
//
// Invariant: at most one method has IsDefault set. The first method added
// becomes the default; removing the default promotes the first remaining.

// AddPaymentMethod saves a method. An empty ID is generated. Setting
// IsDefault on the new method moves the default to it.
func (w *Wallet) AddPaymentMethod(ctx context.Context, pm PaymentMethod) (added PaymentMethod, err error) {
	defer func() { observe("add_payment_method", err) }()

	if err := validatePaymentMethod(pm); err != nil {
		return PaymentMethod{}, err
	}
	if pm.ID == "" {
		pm.ID = newID()
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.methodIndexLocked(pm.ID); ok {
		return PaymentMethod{}, fmt.Errorf("%w: %s", ErrDuplicatePaymentMethod, pm.ID)
	}

	if len(w.state.PaymentMethods) == 0 {
		pm.IsDefault = true
	}
	if pm.IsDefault {
		w.clearDefaultLocked()
	}
	w.state.PaymentMethods = append(w.state.PaymentMethods, pm)

	err = w.persistLocked(ctx, "add_payment_method")
	w.logger.Info("payment method added", "method_id", pm.ID, "type", pm.Type, "default", pm.IsDefault)
	return pm, err
}

// RemovePaymentMethod deletes a method by id.
func (w *Wallet) RemovePaymentMethod(ctx context.Context, id string) (err error) {
	defer func() { observe("remove_payment_method", err) }()

	w.mu.Lock()
	defer w.mu.Unlock()

	i, ok := w.methodIndexLocked(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPaymentMethodNotFound, id)
	}
	wasDefault := w.state.PaymentMethods[i].IsDefault

	methods := make([]PaymentMethod, 0, len(w.state.PaymentMethods)-1)
	methods = append(methods, w.state.PaymentMethods[:i]...)
	methods = append(methods, w.state.PaymentMethods[i+1:]...)
	if wasDefault && len(methods) > 0 {
		methods[0].IsDefault = true
	}
	w.state.PaymentMethods = methods

	return w.persistLocked(ctx, "remove_payment_method")
}

// SetDefaultPaymentMethod makes id the only default.
func (w *Wallet) SetDefaultPaymentMethod(ctx context.Context, id string) (err error) {
	defer func() { observe("set_default_payment_method", err) }()

	w.mu.Lock()
	defer w.mu.Unlock()

	i, ok := w.methodIndexLocked(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPaymentMethodNotFound, id)
	}
	w.clearDefaultLocked()
	w.state.PaymentMethods[i].IsDefault = true

	return w.persistLocked(ctx, "set_default_payment_method")
}

// DefaultPaymentMethod returns the default method, if any.
func (w *Wallet) DefaultPaymentMethod() (PaymentMethod, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, pm := range w.state.PaymentMethods {
		if pm.IsDefault {
			return pm, true
		}
	}
	return PaymentMethod{}, false
}

func (w *Wallet) methodIndexLocked(id string) (int, bool) {
	for i, pm := range w.state.PaymentMethods {
		if pm.ID == id {
			return i, true
		}
	}
	return -1, false
}

func (w *Wallet) clearDefaultLocked() {
	for i := range w.state.PaymentMethods {
		w.state.PaymentMethods[i].IsDefault = false
	}
}

// resolveMethodLocked picks the card for a payment residual.
func (w *Wallet) resolveMethodLocked(id string) (PaymentMethod, error) {
	if id != "" {
		i, ok := w.methodIndexLocked(id)
		if !ok {
			return PaymentMethod{}, fmt.Errorf("%w: %s", ErrPaymentMethodNotFound, id)
		}
		return w.state.PaymentMethods[i], nil
	}
	for _, pm := range w.state.PaymentMethods {
		if pm.IsDefault {
			return pm, nil
		}
	}
	return PaymentMethod{}, ErrPaymentMethodRequired
}

func validatePaymentMethod(pm PaymentMethod) error {
	if pm.Type != MethodCard && pm.Type != MethodBank {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidPaymentMethod, pm.Type)
	}
	if len(pm.Last4) != 4 {
		return fmt.Errorf("%w: last4 must be 4 digits", ErrInvalidPaymentMethod)
	}
	for _, r := range pm.Last4 {
		if !unicode.IsDigit(r) {
			return fmt.Errorf("%w: last4 must be 4 digits", ErrInvalidPaymentMethod)
		}
	}
	if pm.ExpiryMonth != 0 && (pm.ExpiryMonth < 1 || pm.ExpiryMonth > 12) {
		return fmt.Errorf("%w: expiry month %d", ErrInvalidPaymentMethod, pm.ExpiryMonth)
	}
	return nil
}
