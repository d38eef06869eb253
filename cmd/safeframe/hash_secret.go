package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/awnumar/memguard"
	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/chatabc/open-safe-frame/internal/auth"
)

const minSecretLen = 8

var hashSecretCmd = &cobra.Command{
	Use:   "hash-secret",
	Short: "Hash an override secret for override_secret_hash",
	Long: `Reads the override secret from an interactive prompt, or from the first
line of stdin when stdin is not a terminal, and prints its bcrypt hash.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var (
			buf *memguard.LockedBuffer
			err error
		)
		if isatty.IsTerminal(os.Stdin.Fd()) {
			buf, err = promptSecret()
		} else {
			buf, err = readSecret(cmd.InOrStdin())
		}
		if err != nil {
			return err
		}
		defer buf.Destroy()

		hash, err := auth.HashSecret(buf.Bytes())
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
		return err
	},
}

func promptSecret() (*memguard.LockedBuffer, error) {
	var secret, again string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Override secret").
				Description("Unlocks privileged constraints and password confirmations").
				EchoMode(huh.EchoModePassword).
				Validate(validateSecret).
				Value(&secret),
			huh.NewInput().
				Title("Repeat").
				EchoMode(huh.EchoModePassword).
				Validate(func(s string) error {
					if s != secret {
						return errors.New("secrets do not match")
					}
					return nil
				}).
				Value(&again),
		),
	)
	if err := form.Run(); err != nil {
		return nil, err
	}
	return memguard.NewBufferFromBytes([]byte(secret)), nil
}

func readSecret(r io.Reader) (*memguard.LockedBuffer, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	line = strings.TrimRight(line, "\r\n")
	if err := validateSecret(line); err != nil {
		return nil, err
	}
	return memguard.NewBufferFromBytes([]byte(line)), nil
}

func validateSecret(s string) error {
	if len(s) < minSecretLen {
		return fmt.Errorf("secret must be at least %d characters", minSecretLen)
	}
	return nil
}
