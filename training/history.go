package training

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// EpochMetrics holds the named metric values of one completed epoch. Key
// names follow the model's head names: "loss", "main_output_loss",
// "main_output_acc", and so on, with a "val_" prefix for validation values.
type EpochMetrics map[string]float64

// History is the per-epoch metrics of one attempt, in epoch order.
type History []EpochMetrics

// metricsFileKeys is the column order of the persisted metrics file, after
// the leading epoch number and before the two trailing test accuracies.
var metricsFileKeys = []string{
	"loss",
	"main_output_loss",
	"aux_output_loss",
	"main_output_acc",
	"aux_output_acc",
	"val_loss",
	"val_main_output_loss",
	"val_aux_output_loss",
	"val_main_output_acc",
	"val_aux_output_acc",
}

// WriteMetricsFile persists the run history: one comma-separated line per
// epoch with 13 fields, the final two being the test accuracies repeated on
// every line.
func WriteMetricsFile(path string, history History, testMainAcc, testAuxAcc float64) error {
	var sb strings.Builder
	for i, m := range history {
		fields := make([]string, 0, len(metricsFileKeys)+3)
		fields = append(fields, fmt.Sprintf("%d", i+1))
		for _, key := range metricsFileKeys {
			fields = append(fields, fmt.Sprintf("%.6f", m[key]))
		}
		fields = append(fields,
			fmt.Sprintf("%.6f", testMainAcc),
			fmt.Sprintf("%.6f", testAuxAcc),
		)
		sb.WriteString(strings.Join(fields, ","))
		sb.WriteByte('\n')
	}

	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return errors.Wrapf(err, "writing metrics file %s", path)
	}
	return nil
}
