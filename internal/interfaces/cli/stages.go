package cli

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/stockscan/internal/batch"
)

func newStagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "stages",
		Short:       "List the pipeline stages in execution order",
		Annotations: map[string]string{annotationSkipInit: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return PrintResult(cmd, stageList(batch.AllStages()))
		},
	}
}

type stageList []batch.StageKind

func (s stageList) String() string {
	names := make([]string, len(s))
	for i, k := range s {
		names[i] = k.String()
	}
	return strings.Join(names, " -> ")
}

func (s stageList) MarshalJSON() ([]byte, error) {
	names := make([]string, len(s))
	for i, k := range s {
		names[i] = strconv.Quote(k.String())
	}
	return []byte("[" + strings.Join(names, ",") + "]"), nil
}

func (s stageList) TableHeaders() []string { return []string{"ORDER", "STAGE"} }

func (s stageList) TableRows() [][]string {
	rows := make([][]string, len(s))
	for i, k := range s {
		rows[i] = []string{strconv.Itoa(i + 1), k.String()}
	}
	return rows
}
