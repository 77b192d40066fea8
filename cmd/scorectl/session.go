package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"score-ledger/internal/client"
	"score-ledger/internal/coordinator"
	"score-ledger/internal/domain"
	fxmodules "score-ledger/internal/fx"
	"score-ledger/internal/service"
	"score-ledger/internal/wallet"

	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

// session is one connected client: a signer, a ledger and the services
// that drive them.
type session struct {
	app *fx.App

	Signer       *wallet.Local
	Coordinator  *coordinator.Coordinator
	Ledger       *client.LedgerClient
	Submissions  *service.SubmissionService
	Badges       *service.BadgeService
	Leaderboards *service.LeaderboardService
	Logger       zerolog.Logger
}

func openSession(ctx context.Context, confirm wallet.ConfirmFunc) (*session, error) {
	s := &session{}
	s.app = fx.New(
		fxmodules.ClientModule,
		fx.Supply(confirm),
		fx.Populate(&s.Signer, &s.Coordinator, &s.Ledger, &s.Submissions, &s.Badges, &s.Leaderboards, &s.Logger),
		fx.NopLogger,
	)
	if err := s.app.Err(); err != nil {
		return nil, err
	}
	if err := s.app.Start(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *session) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return s.app.Stop(ctx)
}

// promptConfirm asks on the terminal before a capability is signed.
func promptConfirm(in io.Reader, out io.Writer) wallet.ConfirmFunc {
	reader := bufio.NewReader(in)
	return func(_ context.Context, req domain.CapabilityRequest) (bool, error) {
		ledgers := make([]string, len(req.ContractAddresses))
		for i, a := range req.ContractAddresses {
			ledgers[i] = a.String()
		}
		fmt.Fprintf(out, "Sign a decryption capability for %s on %s, valid %d days? [y/N] ",
			req.UserAddress, strings.Join(ledgers, ", "), req.DurationDays)
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return false, err
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes", nil
	}
}

func autoConfirm(context.Context, domain.CapabilityRequest) (bool, error) {
	return true, nil
}
