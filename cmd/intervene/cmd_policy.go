package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AtRiskMedia/intervene/internal/infrastructure/persistence/policy"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/security"
	"github.com/AtRiskMedia/intervene/internal/infrastructure/tenant"
	"github.com/AtRiskMedia/intervene/pkg/config"
)

func newPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Manage tenant policies stored in the database",
	}
	cmd.AddCommand(newPolicyImportCmd(), newPolicyListCmd(), newPolicyDeleteCmd())
	return cmd
}

func openPolicyRepository(cmd *cobra.Command) (*policy.SQLPolicyRepository, func(), error) {
	cipher, err := security.NewSecretCipher(config.SecretEncryptionKey)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid SECRET_ENCRYPTION_KEY: %w", err)
	}
	db, logger, closeStore, err := openStore(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	return policy.NewSQLPolicyRepository(db, cipher, logger), closeStore, nil
}

func newPolicyImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Load tenants from a YAML policy document into the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read policy document: %w", err)
			}
			policies, err := tenant.ParsePolicies(data)
			if err != nil {
				return err
			}

			repo, closeStore, err := openPolicyRepository(cmd)
			if err != nil {
				return err
			}
			defer closeStore()

			for _, p := range policies {
				if err := repo.SavePolicy(cmd.Context(), p); err != nil {
					return fmt.Errorf("save tenant %q: %w", p.TenantID, err)
				}
				fmt.Printf("imported %s (%s, %d rules, %d endpoints)\n",
					p.TenantID, p.Tier.Normalize(), len(p.Rules), len(p.Endpoints))
			}
			return nil
		},
	}
}

func newPolicyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tenants with a stored policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, closeStore, err := openPolicyRepository(cmd)
			if err != nil {
				return err
			}
			defer closeStore()

			ids, err := repo.TenantIDs(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				type summary struct {
					TenantID  string `json:"tenantId"`
					Tier      string `json:"tier"`
					Rules     int    `json:"rules"`
					Endpoints int    `json:"endpoints"`
				}
				out := make([]summary, 0, len(ids))
				for _, id := range ids {
					p, err := repo.LoadPolicy(cmd.Context(), id)
					if err != nil {
						return err
					}
					out = append(out, summary{id, string(p.Tier), len(p.Rules), len(p.Endpoints)})
				}
				return printJSON(out)
			}

			if len(ids) == 0 {
				fmt.Println("No tenant policies stored.")
				return nil
			}
			for _, id := range ids {
				p, err := repo.LoadPolicy(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Printf("%-24s %-10s rules=%d endpoints=%d channels=%v\n",
					id, p.Tier, len(p.Rules), len(p.Endpoints), p.EnabledChannels)
			}
			return nil
		},
	}
}

func newPolicyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <tenantId>",
		Short: "Remove a tenant's policy, rules and endpoints",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, closeStore, err := openPolicyRepository(cmd)
			if err != nil {
				return err
			}
			defer closeStore()

			if err := repo.DeletePolicy(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("deleted %s\n", args[0])
			return nil
		},
	}
}
