package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vibast-solutions/ms-go-apiaccess/app/service"
)

var domainCmd = &cobra.Command{
	Use:   "domain",
	Short: "Manage per-key domain rules",
}

var domainAddCmd = &cobra.Command{
	Use:   "add <key> <pattern>",
	Short: "Attach a domain pattern to an API key",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		accessService, db, err := newAccessServiceForCommands()
		if err != nil {
			return err
		}
		defer db.Close()

		domain, err := accessService.AddDomain(context.Background(), args[0], args[1])
		if err != nil {
			if errors.Is(err, service.ErrAPIKeyNotFound) {
				return fmt.Errorf("api key %q not found", args[0])
			}
			if errors.Is(err, service.ErrDuplicateDomainPattern) {
				return fmt.Errorf("pattern %q is already attached to this key", args[1])
			}
			return err
		}

		fmt.Printf("added pattern %s to api key %s\n", domain.Pattern, args[0])
		return nil
	},
}

var domainRemoveCmd = &cobra.Command{
	Use:   "remove <key> <pattern>",
	Short: "Detach a domain pattern from an API key",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		accessService, db, err := newAccessServiceForCommands()
		if err != nil {
			return err
		}
		defer db.Close()

		removed, err := accessService.RemoveDomain(context.Background(), args[0], args[1])
		if err != nil {
			if errors.Is(err, service.ErrAPIKeyNotFound) {
				return fmt.Errorf("api key %q not found", args[0])
			}
			return err
		}
		if !removed {
			return fmt.Errorf("pattern %q is not attached to this key", args[1])
		}

		fmt.Printf("removed pattern %s from api key %s\n", args[1], args[0])
		return nil
	},
}

var domainListCmd = &cobra.Command{
	Use:   "list <key>",
	Short: "List the domain patterns attached to an API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		accessService, db, err := newAccessServiceForCommands()
		if err != nil {
			return err
		}
		defer db.Close()

		domains, err := accessService.ListDomains(context.Background(), args[0])
		if err != nil {
			if errors.Is(err, service.ErrAPIKeyNotFound) {
				return fmt.Errorf("api key %q not found", args[0])
			}
			return err
		}

		if len(domains) == 0 {
			fmt.Println("no domain restrictions set; all hosts are allowed")
			return nil
		}
		for _, domain := range domains {
			fmt.Println(domain.Pattern)
		}
		return nil
	},
}

var domainTestCmd = &cobra.Command{
	Use:   "test <key> <host>",
	Short: "Explain how the domain matcher would decide for a host",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		accessService, db, err := newAccessServiceForCommands()
		if err != nil {
			return err
		}
		defer db.Close()

		result, err := accessService.TestDomain(context.Background(), args[0], args[1])
		if err != nil {
			if errors.Is(err, service.ErrAPIKeyNotFound) {
				return fmt.Errorf("api key %q not found", args[0])
			}
			return err
		}

		verdict := "DENIED"
		if result.Allowed {
			verdict = "ALLOWED"
		}
		fmt.Printf("host: %s\n", result.Host)
		fmt.Printf("mode: %s\n", result.Mode)
		fmt.Printf("verdict: %s\n", verdict)
		if result.MatchingPattern != "" {
			fmt.Printf("matched: %s\n", result.MatchingPattern)
		}
		fmt.Printf("reason: %s\n", result.Reason)
		return nil
	},
}

func init() {
	domainCmd.AddCommand(domainAddCmd)
	domainCmd.AddCommand(domainRemoveCmd)
	domainCmd.AddCommand(domainListCmd)
	domainCmd.AddCommand(domainTestCmd)
	rootCmd.AddCommand(domainCmd)
}
