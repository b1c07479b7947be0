package main

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/betbot/dicebot/internal/domain"
	"github.com/betbot/dicebot/internal/rules"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect or edit the rule document",
}

func init() {
	check := &cobra.Command{
		Use:   "check",
		Short: "Validate the rule document and print the active rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openRules()
			if err != nil {
				return err
			}
			cfg, err := store.Load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "规则文件: %s\n", cfg.Source)
			fmt.Fprintf(out, "基础注额=%s 奖池阈值=%s 止损余额=%s 倍投=%v(x%.2f) 封顶=%s 僵尸模式=%v\n",
				cfg.BaseStake, cfg.JackpotThreshold, cfg.BalanceStopThreshold,
				cfg.MartingaleEnabled, cfg.MartingaleMultiplier, cfg.MaxStake, cfg.ZombieModeEnabled)
			for _, n := range cfg.Notes {
				fmt.Fprintf(out, "注意: %s\n", n)
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPRIORITY\tCHANNEL\tPATTERN\tBET\tSTAKE")
			for _, r := range cfg.ActiveRules() {
				stake := "-"
				if r.BetAmount != nil {
					stake = r.BetAmount.String()
				}
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n",
					r.ID, r.Priority, r.Channel, strings.Join(r.Pattern, ","), r.BetOn, stake)
			}
			return w.Flush()
		},
	}

	set := &cobra.Command{
		Use:   "set <KEY> <VALUE>",
		Short: "Change a game setting (BET_AMOUNT, JACKPOT_THRESHOLD, BET_STOP, MAX_STAKE, IS_MARTINGALE, RATE_MARTINGALE, ZOMBIE)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openRules()
			if err != nil {
				return err
			}
			if err := store.Update(func(d *rules.Document) error {
				return d.SetGameSetting(args[0], args[1])
			}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "已更新 %s=%s\n", strings.ToUpper(args[0]), args[1])
			return nil
		},
	}

	stake := &cobra.Command{
		Use:   "stake <rule-id> <amount>",
		Short: "Set the per-rule stake override (0 clears it)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("金额无效: %s", args[1])
			}
			store, err := openRules()
			if err != nil {
				return err
			}
			if err := store.Update(func(d *rules.Document) error {
				return d.SetRuleStake(rules.RuleID(args[0]), domain.Money(amount))
			}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "规则 %s 注额已更新为 %d\n", args[0], amount)
			return nil
		},
	}

	rulesCmd.AddCommand(check, set, stake)
	rootCmd.AddCommand(rulesCmd)
}

func openRules() (*rules.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	variant, err := loadVariant(cfg)
	if err != nil {
		return nil, err
	}
	return newRulesStore(cfg, variant), nil
}
