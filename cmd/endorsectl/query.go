package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"skillendorse/gateway"

	"github.com/spf13/cobra"
)

var recordsCmd = &cobra.Command{
	Use:   "records <subject>",
	Short: "List the endorsements of a subject",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecords,
}

func runRecords(cmd *cobra.Command, args []string) error {
	rt, err := connect()
	if err != nil {
		return err
	}
	defer rt.Close()

	records, err := rt.svc.Client().QueryBySubject(context.Background(), rt.session(), args[0])
	if err != nil {
		return err
	}
	return printRecords(records)
}

var searchCmd = &cobra.Command{
	Use:   "search <occupation>",
	Short: "List endorsements by exact occupation",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

func runSearch(cmd *cobra.Command, args []string) error {
	rt, err := connect()
	if err != nil {
		return err
	}
	defer rt.Close()

	records, err := rt.svc.Client().QueryByCategory(context.Background(), rt.session(), args[0])
	if err != nil {
		return err
	}
	return printRecords(records)
}

var validatorsCmd = &cobra.Command{
	Use:   "validators",
	Short: "Show the owner and the validator set",
	Args:  cobra.NoArgs,
	RunE:  runValidators,
}

func runValidators(cmd *cobra.Command, args []string) error {
	rt, err := connect()
	if err != nil {
		return err
	}
	defer rt.Close()

	set, err := rt.svc.Gate().Resolve(context.Background(), rt.session())
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(set)
	}
	fmt.Printf("Owner: %s\n", set.Owner)
	fmt.Printf("Validators (%d):\n", len(set.Validators))
	for _, v := range set.Validators {
		fmt.Printf("  %s\n", v)
	}
	return nil
}

var balanceCmd = &cobra.Command{
	Use:   "balance [account]",
	Short: "Show a reward token balance (defaults to the connected wallet)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runBalance,
}

func runBalance(cmd *cobra.Command, args []string) error {
	rt, err := connect()
	if err != nil {
		return err
	}
	defer rt.Close()

	holder := rt.session().Account
	if len(args) == 1 {
		holder = args[0]
	}
	balance, err := rt.svc.Client().BalanceOf(context.Background(), rt.session(), holder)
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(balance)
	}
	fmt.Printf("%s %s (%s)\n", balance.Formatted, balance.Symbol, balance.Account)
	return nil
}

func printRecords(records []gateway.EndorsementRecord) error {
	if asJSON {
		return printJSON(records)
	}
	if len(records) == 0 {
		fmt.Println("No endorsements found")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "INDEX\tENDORSEE\tNAME\tOCCUPATION\tREVIEW\tVALIDATED\tFILED\tATTACHMENT")
	for _, r := range records {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%t\t%s\t%s\n",
			r.Index, r.Endorsee, r.EndorseeName, r.Occupation, r.Review, r.Validated, r.DisplayTime, r.AttachmentURL)
	}
	return w.Flush()
}
