package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/richinsley/comfypredict/graphapi"
)

// process CLI arguments
func procCLI() (string, string, bool) {
	save := flag.String("save", "", "Write the embedded workflow to this file")
	summary := flag.Bool("summary", false, "Print the non-link inputs of each node instead of the JSON")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s:\n", os.Args[0])
		fmt.Fprintf(flag.CommandLine.Output(), "  %s [OPTIONS] filename\n", os.Args[0])
		fmt.Fprintln(flag.CommandLine.Output(), "\nOptions:")
		flag.PrintDefaults()
		fmt.Fprintln(flag.CommandLine.Output(), "\nfilename: Path to a PNG written by ComfyUI")
	}
	flag.Parse()

	// Check for required filename argument
	if len(flag.Args()) != 1 {
		flag.Usage()
		os.Exit(1)
	}
	return flag.Arg(0), *save, *summary
}

func printSummary(wf graphapi.Workflow) {
	for _, id := range wf.NodeIDs() {
		node := wf[id]
		fmt.Printf("%s %s (%s)\n", id, node.ClassType, node.Title())

		names := make([]string, 0, len(node.Inputs))
		for name, v := range node.Inputs {
			if !graphapi.IsLink(v) {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("    %s = %v\n", name, node.Inputs[name])
		}
	}
}

func main() {
	filename, save, summary := procCLI()

	// the "prompt" text chunk holds the API format workflow that produced the image
	wf, err := graphapi.NewWorkflowFromPNGFile(filename)
	if err != nil {
		slog.Error("Failed to read workflow from png file", "file", filename, "error", err)
		os.Exit(1)
	}

	if save != "" {
		if err := wf.SaveWorkflowToFile(save); err != nil {
			slog.Error("Failed to save workflow", "file", save, "error", err)
			os.Exit(1)
		}
		slog.Info("Saved workflow", "file", save, "nodes", len(wf))
		return
	}

	if summary {
		printSummary(wf)
		return
	}

	data, err := wf.WorkflowToJSON()
	if err != nil {
		slog.Error("Failed to encode workflow", "error", err)
		os.Exit(1)
	}
	fmt.Println(data)
}
