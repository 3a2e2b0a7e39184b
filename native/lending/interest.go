package lending

import "github.com/holiman/uint256"

const secondsPerYear = 31_536_000

// RateModel holds the kinked two-slope borrow curve parameters. All fields are
// wad scaled: OptimalUtilization is the kink point, Slope1 and Slope2 are
// annualised rate slopes, MaxRatePerSecond caps the per-second output.
type RateModel struct {
	OptimalUtilization *uint256.Int
	Slope1             *uint256.Int
	Slope2             *uint256.Int
	MaxRatePerSecond   *uint256.Int
}

// NewRateModel constructs a rate model from wad-scaled parameters.
func NewRateModel(optimal, slope1, slope2, maxRate *uint256.Int) *RateModel {
	model := &RateModel{
		OptimalUtilization: new(uint256.Int),
		Slope1:             new(uint256.Int),
		Slope2:             new(uint256.Int),
		MaxRatePerSecond:   new(uint256.Int),
	}
	if optimal != nil {
		model.OptimalUtilization.Set(optimal)
	}
	if slope1 != nil {
		model.Slope1.Set(slope1)
	}
	if slope2 != nil {
		model.Slope2.Set(slope2)
	}
	if maxRate != nil {
		model.MaxRatePerSecond.Set(maxRate)
	}
	return model
}

// Clone returns a deep copy of the rate model.
func (m *RateModel) Clone() *RateModel {
	if m == nil {
		return nil
	}
	return NewRateModel(m.OptimalUtilization, m.Slope1, m.Slope2, m.MaxRatePerSecond)
}

// Validate checks that the curve is well formed: the kink must sit in (0, 1]
// so the below-kink division is defined.
func (m *RateModel) Validate() error {
	if m == nil {
		return ErrInvalidParams
	}
	if m.OptimalUtilization == nil || m.OptimalUtilization.IsZero() || m.OptimalUtilization.Gt(wad) {
		return ErrInvalidParams
	}
	if m.Slope1 == nil || m.Slope2 == nil || m.MaxRatePerSecond == nil {
		return ErrInvalidParams
	}
	return nil
}

// UtilizationRate computes the wad-scaled fraction of pooled assets currently
// borrowed. With no debt the utilisation is zero; with debt and no available
// cash it is exactly 1.0.
func UtilizationRate(available, borrowed *uint256.Int) (*uint256.Int, error) {
	if borrowed == nil || borrowed.IsZero() {
		return new(uint256.Int), nil
	}
	if available == nil || available.IsZero() {
		return Wad(), nil
	}
	total, err := add(available, borrowed)
	if err != nil {
		return nil, err
	}
	rate, err := wadDiv(borrowed, total)
	if err != nil {
		return nil, err
	}
	return umin(rate, wad), nil
}

// BorrowRatePerSecond derives the wad-scaled per-second borrow rate from the
// current utilisation. At or above full utilisation the configured ceiling
// applies regardless of the slopes.
func (m *RateModel) BorrowRatePerSecond(utilization *uint256.Int) (*uint256.Int, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if utilization == nil {
		utilization = new(uint256.Int)
	}
	if !utilization.Lt(wad) {
		return new(uint256.Int).Set(m.MaxRatePerSecond), nil
	}
	spy := uint256.NewInt(secondsPerYear)
	if utilization.Cmp(m.OptimalUtilization) <= 0 {
		scaled, err := wadDiv(utilization, m.OptimalUtilization)
		if err != nil {
			return nil, err
		}
		annual, err := wadMul(scaled, m.Slope1)
		if err != nil {
			return nil, err
		}
		return new(uint256.Int).Div(annual, spy), nil
	}
	gap, err := sub(utilization, m.OptimalUtilization)
	if err != nil {
		return nil, err
	}
	room, err := sub(wad, utilization)
	if err != nil {
		return nil, err
	}
	excess, err := wadDiv(gap, room)
	if err != nil {
		return nil, err
	}
	extra, err := wadMul(excess, m.Slope2)
	if err != nil {
		return nil, err
	}
	annual, err := add(m.Slope1, extra)
	if err != nil {
		return nil, err
	}
	rate := new(uint256.Int).Div(annual, spy)
	return umin(rate, m.MaxRatePerSecond), nil
}
