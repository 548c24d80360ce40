package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/srg/solebridge/internal/protocol"
)

var decodeCmd = &cobra.Command{
	Use:   "decode <payload>",
	Short: "Decode one notification payload",
	Long: `Decodes a notification payload the way the bridge does and reports whether
the frame would be forwarded to viewers.

For the binary format the payload is hex (spaces and colons are ignored).
For the ascii format it is the raw text.

Examples:
  solebridge decode "0100 0200 0300 0400 0500 0600 0700 0800"
  solebridge decode --wire-format ascii "1_g:10 2_g:20 3_g:30 4_g:40 5_g:50 6_g:60"`,
	Args: cobra.ExactArgs(1),
	RunE: runDecode,
}

func init() {
	decodeCmd.Flags().String("wire-format", "", "Notification payload format (binary, ascii)")
	decodeCmd.Flags().Int("frame-values", 0, "Values per frame (0 uses the format default)")
}

func runDecode(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	decoder, err := cfg.Decoder()
	if err != nil {
		return err
	}

	payload, err := parsePayload(decoder.Format(), args[0])
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true
	return writeDecoded(cmd.OutOrStdout(), decoder, payload)
}

func parsePayload(format protocol.Format, arg string) ([]byte, error) {
	if format == protocol.FormatASCII {
		return []byte(arg), nil
	}
	cleaned := strings.NewReplacer(" ", "", ":", "", "0x", "").Replace(arg)
	payload, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("invalid hex payload: %w", err)
	}
	return payload, nil
}

func writeDecoded(w io.Writer, decoder *protocol.Decoder, payload []byte) error {
	fmt.Fprintf(w, "format:  %s\n", decoder.Format())
	fmt.Fprintf(w, "bytes:   %d\n", len(payload))

	values, err := decoder.Decode(payload)
	var lenErr *protocol.LengthError
	switch {
	case err == nil:
		fmt.Fprintf(w, "values:  %v\n", values)
		_, err = fmt.Fprintf(w, "valid:   yes (%d values)\n", len(values))
		return err
	case errors.As(err, &lenErr):
		_, err = fmt.Fprintf(w, "valid:   no (expected %d values, got %d)\n", lenErr.Expected, lenErr.Got)
		return err
	default:
		return err
	}
}
