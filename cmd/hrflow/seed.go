package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"hrplatform/backend/internal/config"
	"hrplatform/backend/internal/logging"
	"hrplatform/backend/internal/repository"
	"hrplatform/backend/internal/services"
	"hrplatform/backend/pkg/apperr"
	"hrplatform/backend/pkg/models"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed a default tenant with onboarding and leave approval flows",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		log := logging.NewLogger()

		pool, err := pgxpool.New(cmd.Context(), cfg.DSN())
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer pool.Close()
		if err := repository.Migrate(cmd.Context(), pool); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}

		return seed(cmd.Context(), repository.NewPostgresFlowStore(pool), log)
	},
}

func seed(ctx context.Context, store repository.FlowStore, log *logging.Logger) error {
	const domain = "default.local"

	tenant, err := store.GetTenantByDomain(ctx, domain)
	if errors.Is(err, repository.ErrNotFound) {
		tenant = &models.Tenant{
			ID:     uuid.New().String(),
			Name:   "Default Tenant",
			Domain: domain,
		}
		if err := store.CreateTenant(ctx, tenant); err != nil {
			return err
		}
		log.Info("created tenant", "id", tenant.ID, "domain", domain)
	} else if err != nil {
		return err
	}

	definitions := services.NewDefinitionService(store)
	versions := services.NewVersionService(store, nil)
	steps := services.NewStepService(store)

	// created_by is a uuid column; mint a synthetic seed user
	seedUser := uuid.New().String()

	hrRole := "HR_MANAGER"
	managerRole := "MANAGER"

	type seedStep struct {
		order        int
		stepType     models.StepType
		title        string
		approvalRole *string
	}
	flows := []struct {
		flowType string
		name     string
		steps    []seedStep
	}{
		{
			flowType: "ONBOARDING",
			name:     "Employee Onboarding",
			steps: []seedStep{
				{1, models.StepTypeForm, "Personal Details", nil},
				{2, models.StepTypeApproval, "HR Review", &hrRole},
			},
		},
		{
			flowType: "LEAVE_APPROVAL",
			name:     "Leave Approval",
			steps: []seedStep{
				{1, models.StepTypeForm, "Leave Request", nil},
				{2, models.StepTypeApproval, "Manager Approval", &managerRole},
			},
		},
	}

	for _, f := range flows {
		def, err := definitions.Create(ctx, tenant.ID, services.CreateDefinitionInput{
			FlowType: f.flowType,
			Name:     f.name,
		})
		if err != nil {
			if apperr.IsConflict(err) {
				log.Info("flow definition already seeded", "flow_type", f.flowType)
				continue
			}
			return err
		}

		version, err := versions.Create(ctx, tenant.ID, seedUser, def.ID)
		if err != nil {
			return err
		}
		for _, s := range f.steps {
			if _, err := steps.CreateStep(ctx, tenant.ID, services.CreateStepInput{
				FlowVersionID: version.ID,
				StepOrder:     s.order,
				StepType:      s.stepType,
				Title:         s.title,
				ApprovalRole:  s.approvalRole,
			}); err != nil {
				return err
			}
		}
		if _, err := versions.Publish(ctx, tenant.ID, version.ID, true); err != nil {
			return err
		}
		log.Info("seeded flow", "flow_type", f.flowType, "version", version.VersionNumber)
	}
	return nil
}
