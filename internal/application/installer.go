package application

import (
	"context"
	"fmt"
	"strings"

	"github.com/bnema/jupyter-engine-manager/internal/domain"
	"github.com/bnema/jupyter-engine-manager/internal/logging"
	"github.com/bnema/jupyter-engine-manager/internal/ports"
	"go.uber.org/zap"
)

// RequirementInstaller turns requirement lines into notebook commands and
// runs them as a single execution.
type RequirementInstaller struct {
	status ports.StatusSink
	log    *zap.Logger
}

func NewRequirementInstaller(status ports.StatusSink, log *zap.Logger) *RequirementInstaller {
	if status == nil {
		status = ports.NopStatusSink{}
	}
	return &RequirementInstaller{status: status, log: logging.Component(log, "installer")}
}

func (i *RequirementInstaller) Install(ctx context.Context, kernel ports.Kernel, requirements []string, condaAvailable bool) error {
	commands, err := domain.BuildCommands(requirements, condaAvailable)
	if err != nil {
		i.status.ShowStatus(err.Error())
		return err
	}
	if len(commands) == 0 {
		return nil
	}

	i.log.Info("installing requirements",
		zap.String("kernel_id", kernel.ID()),
		zap.Strings("commands", commands),
	)

	err = kernel.Execute(ctx, strings.Join(commands, "\n"), func(out domain.StreamOutput) {
		if out.Name == "stdout" {
			i.status.ShowStatus(out.Text)
		}
	})
	if err != nil {
		i.status.ShowStatus("Failed to install requirements: " + err.Error())
		return fmt.Errorf("install requirements on kernel %s: %w", kernel.ID(), err)
	}

	return nil
}
