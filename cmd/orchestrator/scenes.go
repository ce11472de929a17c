package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/AaronLay10/SentientRoom/internal/orchestrator"
	"github.com/AaronLay10/SentientRoom/internal/version"
)

var errInvalidScenes = errors.New("one or more scenes are invalid")

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <scene.json>...",
		Short: "Check scene files without running them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateScenes(cmd.OutOrStdout(), args)
		},
	}
}

// validateScenes reports each file. Contract problems are warnings; load
// errors make the command fail.
func validateScenes(w io.Writer, paths []string) error {
	failed := false
	for _, path := range paths {
		scene, err := orchestrator.LoadSceneFile(path)
		if err != nil {
			failed = true
			fmt.Fprintf(w, "FAIL %s\n", path)
			var verr *orchestrator.ValidationError
			if errors.As(err, &verr) {
				for _, p := range verr.Problems {
					fmt.Fprintf(w, "  - %s\n", p)
				}
			} else {
				fmt.Fprintf(w, "  - %v\n", err)
			}
			continue
		}

		problems := scene.ContractProblems()
		fmt.Fprintf(w, "OK   %s (%s, %d states)\n", path, scene.ID, len(scene.States))
		for _, p := range problems {
			fmt.Fprintf(w, "  warning: %v\n", p)
		}
	}
	if failed {
		return errInvalidScenes
	}
	return nil
}

func inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <scene.json>",
		Short: "Print a scene's states, timelines and transitions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scene, err := orchestrator.LoadSceneFile(args[0])
			if err != nil {
				return err
			}
			inspectScene(cmd.OutOrStdout(), scene)
			return nil
		},
	}
}

func inspectScene(w io.Writer, scene *orchestrator.Scene) {
	fmt.Fprintf(w, "Scene %s", scene.ID)
	if scene.Version != "" {
		fmt.Fprintf(w, " v%s", scene.Version)
	}
	fmt.Fprintln(w)
	if scene.Description != "" {
		fmt.Fprintln(w, scene.Description)
	}
	fmt.Fprintf(w, "Initial state: %s\n\n", scene.InitialState)

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"State", "On Enter", "Timeline", "On Exit", "Transitions"})
	for _, name := range scene.StateNames() {
		st := scene.States[name]
		label := name
		if name == scene.InitialState {
			label += " *"
		}
		tw.AppendRow(table.Row{
			label,
			describeActions(st.OnEnter),
			describeTimeline(st.Timeline),
			describeActions(st.OnExit),
			describeTransitions(st.Transitions),
		})
	}
	tw.Render()

	if len(scene.GlobalEvents) > 0 {
		fmt.Fprintln(w, "\nGlobal events (not armed):")
		fmt.Fprintln(w, describeTransitions(scene.GlobalEvents))
	}

	if problems := scene.ContractProblems(); len(problems) > 0 {
		fmt.Fprintln(w, "\nCommands that will be dropped:")
		for _, p := range problems {
			fmt.Fprintf(w, "  - %v\n", p)
		}
	}
}

func describeAction(a orchestrator.Action) string {
	if a.Kind == orchestrator.ActionDevice {
		s := fmt.Sprintf("%s <- %s", a.Topic, a.Message)
		if a.Retain {
			s += " (retained)"
		}
		return s
	}
	return fmt.Sprintf("%s %s", a.Kind, a.Message)
}

func describeActions(actions []orchestrator.Action) string {
	lines := make([]string, 0, len(actions))
	for _, a := range actions {
		lines = append(lines, describeAction(a))
	}
	return strings.Join(lines, "\n")
}

func describeTimeline(entries []orchestrator.TimelineEntry) string {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("@%s %s", e.At, describeAction(e.Action)))
	}
	return strings.Join(lines, "\n")
}

func describeTransitions(ts []orchestrator.Transition) string {
	lines := make([]string, 0, len(ts))
	for _, t := range ts {
		var cond string
		switch t.Kind {
		case orchestrator.TransitionTimeout:
			cond = fmt.Sprintf("timeout %s", t.Delay)
		case orchestrator.TransitionAudio, orchestrator.TransitionVideo:
			cond = fmt.Sprintf("%s %s", t.Kind, t.Target)
		case orchestrator.TransitionMQTT:
			cond = fmt.Sprintf("%s = %s", t.Topic, t.Message)
		default:
			cond = string(t.Kind)
		}
		lines = append(lines, fmt.Sprintf("%s -> %s", cond, t.Goto))
	}
	return strings.Join(lines, "\n")
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
