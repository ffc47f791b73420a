package commission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitPackMarketplaceRate(t *testing.T) {
	tests := []struct {
		gross, commission, net int64
	}{
		{gross: 99, commission: 3, net: 96},
		{gross: 150, commission: 5, net: 145}, // 4.5 rounds up
		{gross: 999, commission: 30, net: 969},
		{gross: 1000, commission: 30, net: 970},
		{gross: 2499, commission: 75, net: 2424},
	}
	for _, tt := range tests {
		got, err := Split(tt.gross, PackMarketplaceRate)
		require.NoError(t, err)
		assert.Equal(t, tt.commission, got.Commission, "gross %d", tt.gross)
		assert.Equal(t, tt.net, got.Net, "gross %d", tt.gross)
	}
}

func TestSplitSamplePackCheckoutRate(t *testing.T) {
	tests := []struct {
		gross, commission, net int64
	}{
		{gross: 99, commission: 20, net: 79},
		{gross: 999, commission: 200, net: 799},
		{gross: 1000, commission: 200, net: 800},
		{gross: 1234, commission: 247, net: 987},
	}
	for _, tt := range tests {
		got, err := Split(tt.gross, SamplePackCheckoutRate)
		require.NoError(t, err)
		assert.Equal(t, tt.commission, got.Commission, "gross %d", tt.gross)
		assert.Equal(t, tt.net, got.Net, "gross %d", tt.gross)
	}
}

func TestSplitAlwaysBalances(t *testing.T) {
	for _, rate := range []Rate{PackMarketplaceRate, SamplePackCheckoutRate} {
		for gross := MinimumPriceMinor; gross <= 50_000; gross += 7 {
			got, err := Split(gross, rate)
			require.NoError(t, err)
			if got.Commission+got.Net != gross {
				t.Fatalf("%s: %d + %d != %d", rate.Name(), got.Commission, got.Net, gross)
			}
			if got.Commission < 0 || got.Net <= 0 {
				t.Fatalf("%s: unexpected split %+v", rate.Name(), got)
			}
		}
	}
}

func TestRatesStayDistinct(t *testing.T) {
	assert.Equal(t, "3", PackMarketplaceRate.Percent())
	assert.Equal(t, "20", SamplePackCheckoutRate.Percent())
	assert.NotEqual(t, PackMarketplaceRate.Name(), SamplePackCheckoutRate.Name())
}

func TestSplitRejectsBelowMinimum(t *testing.T) {
	_, err := Split(98, PackMarketplaceRate)
	assert.ErrorIs(t, err, ErrBelowMinimum)
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr error
	}{
		{in: "9.99", want: 999},
		{in: "$12", want: 1200},
		{in: " 0.99 ", want: 99},
		{in: "1.5", want: 150},
		{in: "0.98", wantErr: ErrBelowMinimum},
		{in: "10000", wantErr: ErrAboveMaximum},
		{in: "9999.99", want: 999_999},
		{in: "184467440737095521.16", wantErr: ErrAboveMaximum},
		{in: "-184467440737095521.16", wantErr: ErrBelowMinimum},
		{in: "1e30", wantErr: ErrAboveMaximum},
		{in: "1.999", wantErr: ErrTooManyDigits},
		{in: "abc", wantErr: ErrInvalidPrice},
		{in: "", wantErr: ErrInvalidPrice},
	}
	for _, tt := range tests {
		got, err := ParsePrice(tt.in)
		if tt.wantErr != nil {
			assert.ErrorIs(t, err, tt.wantErr, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestFormatMinor(t *testing.T) {
	assert.Equal(t, "9.99", FormatMinor(999))
	assert.Equal(t, "0.03", FormatMinor(3))
	assert.Equal(t, "12.00", FormatMinor(1200))
}
