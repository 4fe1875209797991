package ledger

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

// BalanceSource reports what the token contracts say custody holds.
type BalanceSource interface {
	CustodyBalance(ctx context.Context, tok common.Address) (*uint256.Int, error)
}

// Discrepancy is one finding of Reconcile.
type Discrepancy struct {
	Token common.Address
	// Err is set when the books do not balance or the balance could not be read.
	Err error
	// Custody is what the books say is held; Observed is what src reported.
	Custody  *uint256.Int
	Observed *uint256.Int
}

// Reconcile checks conservation for every token and compares recorded custody
// with the balance src reports. A surplus on chain is not a discrepancy since
// anyone can send tokens to the custody address.
func (l *Ledger) Reconcile(ctx context.Context, src BalanceSource) []Discrepancy {
	var out []Discrepancy
	for _, t := range l.Tokens() {
		if err := l.CheckConservation(t); err != nil {
			out = append(out, Discrepancy{Token: t, Err: err})
			continue
		}
		if src == nil {
			continue
		}
		custody := l.Custody(t)
		observed, err := src.CustodyBalance(ctx, t)
		if err != nil {
			out = append(out, Discrepancy{Token: t, Err: err, Custody: custody})
			continue
		}
		if observed.Lt(custody) {
			out = append(out, Discrepancy{Token: t, Custody: custody, Observed: observed})
		}
	}
	return out
}

// RunReconciler calls Reconcile every interval until ctx is done and logs what
// it finds.
func RunReconciler(ctx context.Context, l *Ledger, src BalanceSource, interval time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info("reconciler started", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			log.Info("reconciler stopped")
			return
		case <-ticker.C:
			for _, d := range l.Reconcile(ctx, src) {
				if d.Err != nil {
					log.Error("reconciler: token check failed", zap.String("token", d.Token.Hex()), zap.Error(d.Err))
					continue
				}
				log.Warn("reconciler: custody shortfall",
					zap.String("token", d.Token.Hex()),
					zap.String("recorded", d.Custody.Dec()),
					zap.String("observed", d.Observed.Dec()),
				)
			}
		}
	}
}
