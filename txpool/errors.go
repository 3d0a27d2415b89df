// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package txpool

import "github.com/pkg/errors"

var (
	errKnownTx       = errors.New("known transaction")
	errTooLarge      = errors.New("tx too large")
	errPoolFull      = errors.New("tx pool full")
	errQuotaExceeded = errors.New("account quota exceeded")
)

// badTxError is returned for a tx that can never be admitted.
type badTxError struct {
	cause error
}

func (e badTxError) Error() string {
	return "bad tx: " + e.cause.Error()
}

func (e badTxError) Unwrap() error {
	return e.cause
}

func IsErrKnownTx(err error) bool {
	return errors.Is(err, errKnownTx)
}

func IsErrTooLarge(err error) bool {
	return errors.Is(err, errTooLarge)
}

// IsErrRejected reports whether the pool refused a tx for lack of room.
func IsErrRejected(err error) bool {
	return errors.Is(err, errPoolFull) || errors.Is(err, errQuotaExceeded)
}

// IsBadTx reports whether err marks an invalid tx.
func IsBadTx(err error) bool {
	var bad badTxError
	return errors.As(err, &bad)
}
