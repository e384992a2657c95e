package cli

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/langport/worker/internal/domain"
)

func init() {
	generateCmd.Flags().StringVar(&genAddr, "addr", defaultWorkerAddr, "Worker API address")
	generateCmd.Flags().IntVarP(&genMaxTokens, "max-new-tokens", "n", 256, "Maximum tokens to generate")
	generateCmd.Flags().Float64Var(&genTemperature, "temperature", 1.0, "Sampling temperature (0 is greedy)")
	generateCmd.Flags().Float64Var(&genTopP, "top-p", 1.0, "Nucleus sampling threshold")
	generateCmd.Flags().IntVar(&genTopK, "top-k", 0, "Keep only the k most likely tokens (0 disables)")
	generateCmd.Flags().Float64Var(&genRepetition, "repetition-penalty", 1.0, "Penalty for tokens already in context")
	rootCmd.AddCommand(generateCmd)
}

var (
	genAddr        string
	genMaxTokens   int
	genTemperature float64
	genTopP        float64
	genTopK        int
	genRepetition  float64
)

var generateCmd = &cobra.Command{
	Use:   "generate PROMPT",
	Short: "Stream a completion from a running worker",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runGenerate,
}

func runGenerate(cmd *cobra.Command, args []string) error {
	body := map[string]any{
		"prompt":             strings.Join(args, " "),
		"max_new_tokens":     genMaxTokens,
		"temperature":        genTemperature,
		"top_p":              genTopP,
		"top_k":              genTopK,
		"repetition_penalty": genRepetition,
	}
	resp, err := postJSON(cmd.Context(), genAddr, "/worker_generate_stream", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return printStream(cmd.OutOrStdout(), resp.Body)
}

// printStream writes each data event's new suffix so the completion appears
// incrementally. Data events carry the whole text generated so far.
func printStream(w io.Writer, r io.Reader) error {
	var printed string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), 16<<20)
	for sc.Scan() {
		var ev domain.ResultEvent
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			return fmt.Errorf("bad stream line: %w", err)
		}
		switch ev.Kind {
		case domain.EventData:
			if strings.HasPrefix(ev.Text, printed) {
				fmt.Fprint(w, ev.Text[len(printed):])
			} else {
				fmt.Fprint(w, "\n", ev.Text)
			}
			printed = ev.Text
		case domain.EventDone:
			fmt.Fprintln(w)
			return nil
		case domain.EventError:
			fmt.Fprintln(w)
			return fmt.Errorf("%s: %s", ev.ErrorCode, ev.ErrorMessage)
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return errors.New("stream ended before the task finished")
}
