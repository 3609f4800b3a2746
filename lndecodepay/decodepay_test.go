package decodepay

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Invoices below are the published BOLT11 example invoices, all signed by
// the node 03e7156ae33b0a208d0744199163177e909e80176e55d97a2f221ede0f934dd9ad.
const (
	donationInvoice = "lnbc1pvjluezpp5qqqsyqcyq5rqwzqfqqqsyqcyq5rqwzqfqqqsyqcyq5rqwzqfqypqdpl2pkx2ctnv5sxxmmwwd5kgetjypeh2ursdae8g6twvus8g6rfwvs8qun0dfjkxaq8rkx3yf5tcsyz3d73gafnh3cax9rn449d9p5uxz9ezhhypd0elx87sjle52x86fux2ypatgddc6k63n7erqz25le42c4u4ecky03ylcqca784w"
	coffeeInvoice   = "lnbc2500u1pvjluezpp5qqqsyqcyq5rqwzqfqqqsyqcyq5rqwzqfqqqsyqcyq5rqwzqfqypqdq5xysxxatsyp3k7enxv4jsxqzpuaztrnwngzn3kdzw5hydlzf03qdgm2hdq27cqv3agm2awhz5se903vruatfhq77w3ls4evs3ch9zw97j25emudupq63nyw24cg27h2rspfj9srp"
)

func TestDecodepay(t *testing.T) {
	inv, err := Decodepay(donationInvoice)
	require.NoError(t, err)

	require.Equal(t, "bc", inv.Currency)
	require.Equal(t, int64(0), inv.MSat)
	require.Equal(t, "0001020304050607080900010203040506070809000102030405060708090102", inv.PaymentHash)
	require.Equal(t, "03e7156ae33b0a208d0744199163177e909e80176e55d97a2f221ede0f934dd9ad", inv.Payee)
	require.Equal(t, "Please consider supporting this project", inv.Description)
	require.Equal(t, 1496314658, inv.CreatedAt)
}

func TestDecodepayWithAmount(t *testing.T) {
	inv, err := Decodepay(coffeeInvoice)
	require.NoError(t, err)

	require.Equal(t, int64(250000000), inv.MSat)
	require.Equal(t, "1 cup coffee", inv.Description)
	require.Equal(t, 60, inv.Expiry)
}

func TestDecodepayRejectsGarbage(t *testing.T) {
	_, err := Decodepay("")
	require.Error(t, err)

	_, err = Decodepay("lnbc1notaninvoice")
	require.Error(t, err)

	_, err = Decodepay("hello world")
	require.Error(t, err)
}
