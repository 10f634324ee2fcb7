package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"skillendorse/gateway"

	"github.com/spf13/cobra"
)

var initLedgerCmd = &cobra.Command{
	Use:   "init-ledger [validator...]",
	Short: "Become the ledger owner and seed the validators",
	Long: `Run InitLedger as the connected wallet. The wallet becomes the owner.
Validators given as arguments replace the configured bootstrap list.

Example:
  endorsectl init-ledger
  endorsectl init-ledger 0x14dC79964da2C08b23698B3D3cc7Ca32193d9955`,
	RunE: runInitLedger,
}

func runInitLedger(cmd *cobra.Command, args []string) error {
	rt, err := connect()
	if err != nil {
		return err
	}
	defer rt.Close()

	bootstrap := rt.cfg.Validators.Bootstrap
	if len(args) > 0 {
		bootstrap = args
	}
	receipt, err := rt.svc.Client().InitLedger(context.Background(), rt.session(), bootstrap)
	if err != nil {
		return err
	}
	return printReceipt(fmt.Sprintf("Ledger initialized with %d validators, owner %s", len(bootstrap), rt.session().Account), receipt)
}

var fileForm gateway.EndorsementForm
var fileAttachment string

var fileCmd = &cobra.Command{
	Use:   "file",
	Short: "File an endorsement with an attachment",
	Long: `Upload the attachment to the pinning service, then record the
endorsement on the ledger. Nothing is written when the upload fails.

Example:
  endorsectl file --subject 0xa0Ee7A142d267C1f36714E4a8F75612F20a79720 \
    --endorser-name Ravi --endorsee-name Lakshmi --location Nuzvid \
    --occupation Teacher --phone "+91 90000 00000" \
    --reason "Taught mathematics" --review 4 --attachment cert.pdf`,
	RunE: runFile,
}

func init() {
	f := fileCmd.Flags()
	f.StringVar(&fileForm.Subject, "subject", "", "address of the person endorsed")
	f.StringVar(&fileForm.EndorserName, "endorser-name", "", "name of the endorser")
	f.StringVar(&fileForm.EndorseeName, "endorsee-name", "", "name of the person endorsed")
	f.StringVar(&fileForm.Location, "location", "", "location")
	f.StringVar(&fileForm.Occupation, "occupation", "", "occupation (exact match for search)")
	f.StringVar(&fileForm.PhoneNumber, "phone", "", "phone number")
	f.StringVar(&fileForm.Reason, "reason", "", "reason for the endorsement")
	f.StringVar(&fileForm.Review, "review", "", "review score 0-5")
	f.StringVar(&fileAttachment, "attachment", "", "file to attach")
	_ = fileCmd.MarkFlagRequired("attachment")
}

func runFile(cmd *cobra.Command, args []string) error {
	rt, err := connect()
	if err != nil {
		return err
	}
	defer rt.Close()

	f, err := os.Open(fileAttachment)
	if err != nil {
		return fmt.Errorf("opening attachment: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("reading attachment: %w", err)
	}

	att := &gateway.Attachment{Filename: filepath.Base(fileAttachment), Size: info.Size(), Body: f}
	result, err := rt.svc.SubmitEndorsement(context.Background(), rt.session(), fileForm, att)
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(result)
	}
	if err := printReceipt(fmt.Sprintf("Endorsement filed for %s", result.Subject), result.Receipt); err != nil {
		return err
	}
	fmt.Printf("  Attachment:  %s\n", result.AttachmentRef)
	fmt.Println()
	return printRecords(result.Records)
}

var validateCmd = &cobra.Command{
	Use:   "validate <subject> <index>",
	Short: "Approve an endorsement",
	Args:  cobra.ExactArgs(2),
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	index, err := strconv.Atoi(args[1])
	if err != nil || index < 0 {
		return fmt.Errorf("index must be a non-negative integer, got %q", args[1])
	}

	rt, err := connect()
	if err != nil {
		return err
	}
	defer rt.Close()

	result, err := rt.svc.Validate(context.Background(), rt.session(), args[0], index)
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(result)
	}
	if err := printReceipt(fmt.Sprintf("Endorsement %s/%d validated", result.Subject, index), result.Receipt); err != nil {
		return err
	}
	fmt.Println()
	return printRecords(result.Records)
}

var grantValidatorCmd = &cobra.Command{
	Use:   "grant-validator <account>",
	Short: "Grant the validator role (owner only)",
	Args:  cobra.ExactArgs(1),
	RunE:  runGrantValidator,
}

func runGrantValidator(cmd *cobra.Command, args []string) error {
	rt, err := connect()
	if err != nil {
		return err
	}
	defer rt.Close()

	result, err := rt.svc.GrantValidator(context.Background(), rt.session(), args[0])
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(result)
	}
	if err := printReceipt(fmt.Sprintf("Validator role granted to %s", result.Account), result.Receipt); err != nil {
		return err
	}
	fmt.Printf("  Validators:  %d\n", len(result.Validators))
	return nil
}
