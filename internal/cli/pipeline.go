package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewPipelineCmd создаёт группу команд для управления pipelines.
func NewPipelineCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "pipeline",
		Aliases: []string{"pl"},
		Short:   "Manage order pipelines",
	}

	cmd.AddCommand(
		newPipelineListCmd(clientFn, outputFn),
		newPipelineShowCmd(clientFn, outputFn),
		newPipelineStartCmd(clientFn, outputFn),
		newPipelineTriggerCmd(clientFn, outputFn),
		newPipelinePauseCmd(clientFn, outputFn),
		newPipelineResumeCmd(clientFn, outputFn),
		newPipelineRestageCmd(clientFn, outputFn),
		newPipelineCancelCmd(clientFn, outputFn),
	)

	return cmd
}

var pipelineHeaders = []string{"ID", "ORDER", "STAGE", "STATUS", "PROGRESS", "UPDATED"}

func pipelineRow(p PipelineResponse) []string {
	return []string{p.ID, p.OrderID, p.CurrentStage, p.Status, strconv.Itoa(p.Progress) + "%", p.UpdatedAt}
}

func printPipeline(out *Output, p *PipelineResponse) {
	out.Print(pipelineHeaders, [][]string{pipelineRow(*p)}, p)
}

func newPipelineListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts ListPipelinesOpts

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pipelines",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			pipelines, err := client.ListPipelines(opts)
			if err != nil {
				return err
			}

			rows := make([][]string, len(pipelines))
			for i, p := range pipelines {
				rows[i] = pipelineRow(p)
			}

			out.Print(pipelineHeaders, rows, pipelines)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Status, "status", "", "Filter by status (ACTIVE, PAUSED, COMPLETED, FAILED)")
	cmd.Flags().StringVar(&opts.Stage, "stage", "", "Filter by current stage")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum number of results")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "Number of results to skip")

	return cmd
}

func newPipelineShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var byOrder bool

	cmd := &cobra.Command{
		Use:   "show ID",
		Short: "Show pipeline details and stage history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			var (
				p   *PipelineResponse
				err error
			)
			if byOrder {
				p, err = client.GetOrderPipeline(args[0])
			} else {
				p, err = client.GetPipeline(args[0])
			}
			if err != nil {
				return err
			}

			if out.jsonMode {
				out.JSON(p)
				return nil
			}

			out.Detail([][2]string{
				{"ID", p.ID},
				{"Order", p.OrderID},
				{"Stage", p.CurrentStage},
				{"Status", p.Status},
				{"Progress", strconv.Itoa(p.Progress) + "%"},
				{"Epoch", strconv.Itoa(p.Epoch)},
				{"In flight", inFlightSummary(p.InFlight)},
				{"Retry at", p.RetryAt},
				{"Last error", p.LastError},
				{"Pause reason", p.PauseReason},
				{"Created", p.CreatedAt},
				{"Completed", p.CompletedAt},
			})

			if len(p.History) > 0 {
				fmt.Fprintln(out.w)
				rows := make([][]string, len(p.History))
				for i, rec := range p.History {
					rows[i] = []string{
						rec.Stage, strconv.Itoa(rec.Attempt), strconv.Itoa(rec.Epoch),
						rec.Outcome, rec.Resolution, rec.ExitedAt, rec.Error,
					}
				}
				out.Table([]string{"STAGE", "ATTEMPT", "EPOCH", "OUTCOME", "VIA", "EXITED", "ERROR"}, rows)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&byOrder, "order", false, "Treat the argument as an order ID")

	return cmd
}

func inFlightSummary(f *InFlightResponse) string {
	if f == nil {
		return ""
	}
	return fmt.Sprintf("%s #%d until %s", f.Stage, f.Attempt, f.Deadline)
}

func newPipelineStartCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "start ORDER_ID",
		Short: "Start a pipeline for an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			p, err := client.CreatePipeline(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Pipeline started: %s", p.ID))
			printPipeline(out, p)
			return nil
		},
	}
}

func newPipelineTriggerCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "trigger ORDER_ID",
		Short: "Queue a pipeline start for an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			resp, err := client.TriggerOrder(args[0])
			if err != nil {
				return err
			}

			if out.jsonMode {
				out.JSON(resp)
				return nil
			}
			out.Success(fmt.Sprintf("Trigger queued for order %s", resp.OrderID))
			return nil
		},
	}
}

func newPipelinePauseCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "pause ID",
		Short: "Pause a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			p, err := client.PausePipeline(args[0], reason)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Pipeline paused: %s", p.ID))
			printPipeline(out, p)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Why the pipeline is paused")

	return cmd
}

func newPipelineResumeCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "resume ID",
		Short: "Resume a paused pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			p, err := client.ResumePipeline(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Pipeline resumed: %s", p.ID))
			printPipeline(out, p)
			return nil
		},
	}
}

func newPipelineRestageCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "restage ID STAGE",
		Short: "Run a pipeline again from its current or an earlier stage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			p, err := client.RestagePipeline(args[0], strings.ToUpper(args[1]), reason)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Pipeline %s restaged to %s (epoch %d)", p.ID, p.CurrentStage, p.Epoch))
			printPipeline(out, p)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Why the pipeline is restaged")

	return cmd
}

func newPipelineCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a pipeline for good",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			p, err := client.CancelPipeline(args[0], reason)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Pipeline cancelled: %s", p.ID))
			printPipeline(out, p)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Why the pipeline is cancelled")
	_ = cmd.MarkFlagRequired("reason")

	return cmd
}
