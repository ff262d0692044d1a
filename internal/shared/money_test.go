package shared

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseMoney(t *testing.T) {
	cents, err := ParseMoney("1050.00")
	require.NoError(t, err)
	require.Equal(t, int64(105000), cents)

	cents, err = ParseMoney("0.01")
	require.NoError(t, err)
	require.Equal(t, int64(1), cents)

	_, err = ParseMoney("12.345")
	require.Error(t, err)

	_, err = ParseMoney("abc")
	require.Error(t, err)
}

func TestFormatMoney(t *testing.T) {
	require.Equal(t, "1300.00", FormatMoney(130000))
	require.Equal(t, "0.05", FormatMoney(5))
	require.Equal(t, "-250.00", FormatMoney(-25000))
}

func TestParseQuantity(t *testing.T) {
	micros, err := ParseQuantity("10.5")
	require.NoError(t, err)
	require.Equal(t, int64(10_500_000), micros)

	micros, err = ParseQuantity("0.000001")
	require.NoError(t, err)
	require.Equal(t, int64(1), micros)

	_, err = ParseQuantity("0.0000001")
	require.Error(t, err)

	_, err = ParseQuantity("0")
	require.Error(t, err)

	_, err = ParseQuantity("-4")
	require.Error(t, err)
}

func TestFormatQuantity(t *testing.T) {
	require.Equal(t, "10.5", FormatQuantity(10_500_000))
	require.Equal(t, "5", FormatQuantity(5_000_000))
	require.Equal(t, "0.000001", FormatQuantity(1))
}

func TestLineTotalCents(t *testing.T) {
	// qty 10.5 * 100.00 = 1050.00
	require.Equal(t, int64(105000), LineTotalCents(10_500_000, 10000))
	// qty 5 * 50.00 = 250.00
	require.Equal(t, int64(25000), LineTotalCents(5_000_000, 5000))
	// rounding: 0.333333 * 1.00 = 0.33
	require.Equal(t, int64(33), LineTotalCents(333_333, 100))
	// rounding up: 1.005 * 1.00 = 1.01 (half away from zero on the cent)
	require.Equal(t, int64(101), LineTotalCents(1_005_000, 100))
}

func TestCursor(t *testing.T) {
	token := EncodeCursor(42)
	page, err := DecodeCursor(token, 25)
	require.NoError(t, err)
	require.Equal(t, int64(42), page.AfterID)
	require.Equal(t, 25, page.Limit)

	page, err = DecodeCursor("", 0)
	require.NoError(t, err)
	require.Equal(t, int64(0), page.AfterID)
	require.Equal(t, DefaultPageSize, page.Limit)

	_, err = DecodeCursor("!!!", 10)
	require.Error(t, err)

	page, err = DecodeCursor("", 100000)
	require.NoError(t, err)
	require.Equal(t, MaxPageSize, page.Limit)
}
