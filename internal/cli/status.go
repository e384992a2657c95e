package cli

import (
	"encoding/json"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func init() {
	statusCmd.Flags().StringVar(&statusAddr, "addr", defaultWorkerAddr, "Worker API address")
	rootCmd.AddCommand(statusCmd)
}

var statusAddr string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a running worker's status",
	RunE:  runStatus,
}

type workerStatus struct {
	WorkerID    string `json:"worker_id"`
	Online      bool   `json:"online"`
	ModelName   string `json:"model_name"`
	Speed       int    `json:"speed"`
	QueueLength int    `json:"queue_length"`
	Pending     int    `json:"pending"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := withTimeout(cmd.Context())
	defer cancel()

	resp, err := postJSON(ctx, statusAddr, "/worker_get_status", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var st workerStatus
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return err
	}
	renderStatus(cmd.OutOrStdout(), st)
	return nil
}

func renderStatus(w io.Writer, st workerStatus) {
	state := "offline"
	if st.Online {
		state = "online"
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"WORKER", "MODEL", "STATE", "QUEUE", "PENDING", "SPEED"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.Append([]string{
		st.WorkerID,
		st.ModelName,
		state,
		strconv.Itoa(st.QueueLength),
		strconv.Itoa(st.Pending),
		strconv.Itoa(st.Speed),
	})
	table.Render()
}
