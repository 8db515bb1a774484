package payment

import (
	"fmt"
	"sort"

	"github.com/go-faster/errors"
)

// Selection maps method families to providers.
type Selection struct {
	Card Provider
	Pix  Provider
}

// Correction records a misconfigured mapping that was replaced.
type Correction struct {
	Family     Family
	Configured string
	Applied    Provider
	Reason     string
}

func (c Correction) String() string {
	return fmt.Sprintf("%s: %q replaced by %s (%s)", c.Family, c.Configured, c.Applied, c.Reason)
}

// ResolveSelection validates the configured provider names against the
// allow-list. Unknown card providers fall back to PayPal. PIX is only
// handled by Mercado Pago, so any other value is replaced.
func ResolveSelection(card, pix string) (Selection, []Correction) {
	var (
		sel         Selection
		corrections []Correction
	)

	if p, ok := ParseProvider(card); ok {
		sel.Card = p
	} else {
		sel.Card = ProviderPayPal
		corrections = append(corrections, Correction{
			Family: FamilyCard, Configured: card, Applied: ProviderPayPal, Reason: "unknown provider",
		})
	}

	switch p, ok := ParseProvider(pix); {
	case !ok:
		sel.Pix = ProviderMercadoPago
		corrections = append(corrections, Correction{
			Family: FamilyPix, Configured: pix, Applied: ProviderMercadoPago, Reason: "unknown provider",
		})
	case p != ProviderMercadoPago:
		sel.Pix = ProviderMercadoPago
		corrections = append(corrections, Correction{
			Family: FamilyPix, Configured: pix, Applied: ProviderMercadoPago, Reason: "provider does not support pix",
		})
	default:
		sel.Pix = p
	}

	return sel, corrections
}

// For returns the provider for m. In-person payments have no provider.
func (s Selection) For(m Method) (Provider, bool) {
	switch m.Family() {
	case FamilyPix:
		return s.Pix, true
	case FamilyCard:
		return s.Card, true
	case FamilyWallet:
		return ProviderPayPal, true
	default:
		return "", false
	}
}

// Registry holds the adapters of configured providers.
type Registry struct {
	adapters map[Provider]Adapter
}

// NewRegistry creates a Registry from adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[Provider]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Provider()] = a
	}
	return r
}

// Adapter returns the adapter registered for p.
func (r *Registry) Adapter(p Provider) (Adapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, errors.Wrap(ErrProviderNotConfigured, string(p))
	}
	return a, nil
}

// Configured reports whether p has a registered adapter.
func (r *Registry) Configured(p Provider) bool {
	_, ok := r.adapters[p]
	return ok
}

// Capturer returns the capture capability of p.
func (r *Registry) Capturer(p Provider) (Capturer, error) {
	a, err := r.Adapter(p)
	if err != nil {
		return nil, err
	}
	c, ok := a.(Capturer)
	if !ok {
		return nil, errors.Wrap(ErrCaptureUnsupported, string(p))
	}
	return c, nil
}

// DetailsFetcher returns the details capability of p.
func (r *Registry) DetailsFetcher(p Provider) (DetailsFetcher, error) {
	a, err := r.Adapter(p)
	if err != nil {
		return nil, err
	}
	d, ok := a.(DetailsFetcher)
	if !ok {
		return nil, errors.Wrap(ErrDetailsUnsupported, string(p))
	}
	return d, nil
}

// Names returns the registered providers in lexical order.
func (r *Registry) Names() []Provider {
	out := make([]Provider, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
