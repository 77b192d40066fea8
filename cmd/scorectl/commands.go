package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"score-ledger/internal/constants"
	"score-ledger/internal/coordinator"
	"score-ledger/internal/domain"
	"score-ledger/internal/service"
	"score-ledger/internal/wallet"

	"github.com/spf13/cobra"
)

// rootCommand stores the opened session in sess so the caller can close it
// whether or not the command failed.
func rootCommand(sess **session) *cobra.Command {
	var yes bool

	root := &cobra.Command{
		Use:          "scorectl",
		Short:        "Submit scores and reveal your encrypted total",
		SilenceUsage: true,
		PersistentPreRunE: func(c *cobra.Command, _ []string) error {
			var confirm wallet.ConfirmFunc = autoConfirm
			if !yes {
				confirm = promptConfirm(c.InOrStdin(), c.ErrOrStderr())
			}
			var err error
			*sess, err = openSession(c.Context(), confirm)
			return err
		},
	}
	root.PersistentFlags().BoolVarP(&yes, "yes", "y", false, "sign decryption capabilities without prompting")

	current := func() *session { return *sess }
	root.AddCommand(
		submitCommand(current),
		refreshCommand(current),
		revealCommand(current),
		statsCommand(current),
		badgesCommand(current),
		claimCommand(current),
		leaderboardCommand(current),
		historyCommand(current),
	)
	return root
}

func submitCommand(sess func() *session) *cobra.Command {
	var score, publicScore uint32
	var correct, questions int

	c := &cobra.Command{
		Use:   "submit",
		Short: "Submit a game result",
		RunE: func(c *cobra.Command, _ []string) error {
			res, err := sess().Submissions.Submit(c.Context(), score, service.ResultDocument{
				PublicScore: publicScore,
				Correct:     correct,
				Questions:   questions,
			})
			if err != nil {
				return err
			}
			if res.Outcome == coordinator.OutcomeStale {
				fmt.Fprintln(c.OutOrStdout(), "submission cancelled: account or ledger changed")
				return nil
			}
			fmt.Fprintf(c.OutOrStdout(), "submission %d confirmed in %s\n", res.SubmissionID, res.TxID)
			return nil
		},
	}
	flags := c.Flags()
	flags.Uint32Var(&score, "score", 0, "private score, encrypted before submission")
	flags.Uint32Var(&publicScore, "public-score", 0, "public score counted towards stats and badges")
	flags.IntVar(&correct, "correct", 0, "correct answers")
	flags.IntVar(&questions, "questions", 0, "questions asked")
	return c
}

func refreshCommand(sess func() *session) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Read your encrypted total handle",
		RunE: func(c *cobra.Command, _ []string) error {
			s := sess()
			outcome, err := s.Coordinator.Refresh(c.Context())
			if err != nil {
				return err
			}
			snap := s.Coordinator.Snapshot()
			if snap.Handle.IsZero() {
				fmt.Fprintf(c.OutOrStdout(), "%s: no encrypted total yet\n", outcome)
				return nil
			}
			fmt.Fprintf(c.OutOrStdout(), "%s: %s\n", outcome, snap.Handle)
			return nil
		},
	}
}

func revealCommand(sess func() *session) *cobra.Command {
	var forceSign bool

	c := &cobra.Command{
		Use:   "reveal",
		Short: "Decrypt your total score",
		RunE: func(c *cobra.Command, _ []string) error {
			s := sess()
			if _, err := s.Coordinator.Refresh(c.Context()); err != nil {
				return err
			}
			res, err := s.Coordinator.Decrypt(c.Context(), coordinator.DecryptOptions{ForceSign: forceSign})
			if err != nil {
				return err
			}
			if res.Outcome == coordinator.OutcomeStale {
				fmt.Fprintln(c.OutOrStdout(), "result ignored: account or ledger changed")
				return nil
			}
			fmt.Fprintf(c.OutOrStdout(), "total score: %d\n", res.Value)
			return nil
		},
	}
	c.Flags().BoolVar(&forceSign, "force-sign", false, "sign a new decryption capability even if a cached one is valid")
	return c
}

func statsCommand(sess func() *session) *cobra.Command {
	return &cobra.Command{
		Use:   "stats [address]",
		Short: "Show public statistics",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			s := sess()
			owner, err := ownerArg(s, args)
			if err != nil {
				return err
			}
			stats, err := s.Ledger.StatsOf(c.Context(), owner)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(c.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "owner\t%s\n", owner)
			fmt.Fprintf(w, "games played\t%d\n", stats.GamesPlayed)
			fmt.Fprintf(w, "total public score\t%d\n", stats.TotalPublicScore)
			fmt.Fprintf(w, "best public score\t%d\n", stats.MaxSinglePublicScore)
			if !stats.LastPlayedAt.IsZero() {
				fmt.Fprintf(w, "last played\t%s\n", stats.LastPlayedAt.Local().Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}
}

func badgesCommand(sess func() *session) *cobra.Command {
	return &cobra.Command{
		Use:   "badges [address]",
		Short: "Show badge progress",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			s := sess()
			owner, err := ownerArg(s, args)
			if err != nil {
				return err
			}
			progress, _, err := s.Badges.Preview(c.Context(), owner)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(c.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tBADGE\tSTATUS\tREQUIREMENT")
			for _, p := range progress {
				status := "locked"
				switch {
				case p.Claimed:
					status = "claimed"
				case p.Eligible:
					status = "claimable"
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", p.Badge.ID, p.Badge.Name, status, p.Badge.Description)
			}
			return w.Flush()
		},
	}
}

func claimCommand(sess func() *session) *cobra.Command {
	return &cobra.Command{
		Use:   "claim <badge-id>",
		Short: "Claim a badge",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid badge id %q", args[0])
			}
			receipt, err := sess().Badges.Claim(c.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.OutOrStdout(), "badge %d claimed in %s\n", id, receipt.TxID)
			return nil
		},
	}
}

func leaderboardCommand(sess func() *session) *cobra.Command {
	var limit int

	c := &cobra.Command{
		Use:   "leaderboard",
		Short: "Rank players by public score",
		RunE: func(c *cobra.Command, _ []string) error {
			board, err := sess().Leaderboards.Load(c.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(c.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "#\tPLAYER\tTOTAL\tGAMES\tBEST\tBADGES")
			for i, e := range board.Top(limit) {
				fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\t%d\n", i+1, e.Owner, e.TotalPublicScore, e.GamesPlayed, e.BestPublicScore, e.Badges)
			}
			return w.Flush()
		},
	}
	c.Flags().IntVar(&limit, "limit", constants.LeaderboardLimit, "number of players to show")
	return c
}

func historyCommand(sess func() *session) *cobra.Command {
	return &cobra.Command{
		Use:   "history [address]",
		Short: "List submissions, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			s := sess()
			owner, err := ownerArg(s, args)
			if err != nil {
				return err
			}
			board, err := s.Leaderboards.Load(c.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(c.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPUBLIC SCORE\tPLAYED\tRESULT")
			for _, e := range board.History(owner) {
				fmt.Fprintf(w, "%d\t%d\t%s\t%s\n", e.SubmissionID, e.PublicScore, e.Timestamp.Local().Format("2006-01-02 15:04"), e.ResultRef)
			}
			return w.Flush()
		},
	}
}

func ownerArg(s *session, args []string) (domain.Address, error) {
	if len(args) == 0 {
		return s.Signer.Address(), nil
	}
	return domain.ParseAddress(args[0])
}
