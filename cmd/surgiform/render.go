package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/surgiform/surgiform/internal/domain/consent"
	"github.com/surgiform/surgiform/internal/domain/intake"
	"github.com/surgiform/surgiform/internal/domain/wizard"
	"github.com/surgiform/surgiform/internal/platform/pdfdoc"
)

func renderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Assemble a consent PDF offline from JSON snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			formPath, _ := cmd.Flags().GetString("form")
			consentPath, _ := cmd.Flags().GetString("consent")
			sigPath, _ := cmd.Flags().GetString("signatures")
			out, _ := cmd.Flags().GetString("out")
			locale, _ := cmd.Flags().GetString("locale")
			fontPath, _ := cmd.Flags().GetString("font")

			in := renderInput{}
			var err error
			if in.form, err = os.ReadFile(formPath); err != nil {
				return fmt.Errorf("read form: %w", err)
			}
			if in.consent, err = os.ReadFile(consentPath); err != nil {
				return fmt.Errorf("read consent: %w", err)
			}
			if sigPath != "" {
				if in.signatures, err = os.ReadFile(sigPath); err != nil {
					return fmt.Errorf("read signatures: %w", err)
				}
			}

			logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
			opts := []pdfdoc.Option{pdfdoc.WithLabels(pdfdoc.LabelsFor(locale))}
			if fontPath != "" {
				font, err := pdfdoc.LoadFont(fontPath)
				if err != nil {
					return err
				}
				opts = append(opts, pdfdoc.WithFonts(font, font))
			}

			asm := pdfdoc.NewAssembler(logger, opts...)
			if err := asm.CheckCoverage(); err != nil {
				return fmt.Errorf("--font: %w", err)
			}
			doc, name, err := render(in, asm, time.Now())
			if err != nil {
				return err
			}
			if out == "" {
				out = name
			}
			if err := os.WriteFile(out, doc.Data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d page(s)).\n", out, doc.PageCount())
			return nil
		},
	}
	cmd.Flags().String("form", "", "Wizard form state (JSON object)")
	cmd.Flags().String("consent", "", "Consent content: stored consent_data, a flat item list or nested sections")
	cmd.Flags().String("signatures", "", "Signature bundle (JSON with patient/doctor data URLs)")
	cmd.Flags().String("out", "", "Output file (default consent_<registration>_<date>.pdf)")
	cmd.Flags().String("locale", "ko", "Label language (ko or en)")
	cmd.Flags().String("font", "", "TrueType font file; required for --locale ko (e.g. a Hangul font)")
	cmd.MarkFlagRequired("form")
	cmd.MarkFlagRequired("consent")
	return cmd
}

type renderInput struct {
	form       []byte
	consent    []byte
	signatures []byte
}

// render decodes the snapshots and assembles the document together with
// its attachment name.
func render(in renderInput, asm wizard.Assembler, now time.Time) (*pdfdoc.Document, string, error) {
	var form intake.FormState
	if err := json.Unmarshal(in.form, &form); err != nil {
		return nil, "", fmt.Errorf("decode form: %w", err)
	}
	items, err := decodeConsent(in.consent)
	if err != nil {
		return nil, "", err
	}
	var sigs wizard.SignatureBundle
	if len(in.signatures) > 0 {
		if err := json.Unmarshal(in.signatures, &sigs); err != nil {
			return nil, "", fmt.Errorf("decode signatures: %w", err)
		}
	}

	req := intake.MapFormToRequest(form)
	doc, err := asm.Assemble(wizard.PatientInfo(req), items, sigs)
	if err != nil {
		return nil, "", err
	}
	return doc, wizard.DocumentFileName(req.RegistrationNo, now), nil
}

// decodeConsent accepts a stored consent_data object ({"consents": ...}) or
// the consents value on its own, in flat or nested shape.
func decodeConsent(data []byte) ([]consent.Item, error) {
	var wrapped struct {
		Consents *consent.Items `json:"consents"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Consents != nil {
		return consent.ToFlat(consent.ToNested(*wrapped.Consents)), nil
	}
	var items consent.Items
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode consent: %w", err)
	}
	return consent.ToFlat(consent.ToNested(items)), nil
}
