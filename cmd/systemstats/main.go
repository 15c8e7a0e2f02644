package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/richinsley/comfypredict/client"
	"github.com/richinsley/comfypredict/engine"
)

// process CLI arguments
func procCLI() (string, int, time.Duration) {
	serverAddress := flag.String("address", "127.0.0.1", "Server address")
	serverPort := flag.Int("port", 8188, "Server port")
	wait := flag.Duration("wait", 0, "Keep polling until the server answers or this much time passed")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s:\n", os.Args[0])
		fmt.Fprintf(flag.CommandLine.Output(), "  %s [OPTIONS]\n", os.Args[0])
		fmt.Fprintln(flag.CommandLine.Output(), "\nOptions:")
		flag.PrintDefaults()
	}
	flag.Parse()
	return *serverAddress, *serverPort, *wait
}

// displaySystemStats gets the system statistics for the client
func displaySystemStats(ctx context.Context, c *client.ComfyClient) error {
	stats, err := c.GetSystemStats(ctx)
	if err != nil {
		return err
	}
	fmt.Println("System Stats:")
	fmt.Printf("\tOS: %s\n", stats.System.OS)
	fmt.Printf("\tPython Version: %s\n", stats.System.PythonVersion)
	if stats.System.ComfyUIVersion != "" {
		fmt.Printf("\tComfyUI Version: %s\n", stats.System.ComfyUIVersion)
	}
	fmt.Println("\tDevices:")
	for _, dev := range stats.Devices {
		fmt.Printf("\t\tIndex: %d\n", dev.Index)
		fmt.Printf("\t\tName: %s\n", dev.Name)
		fmt.Printf("\t\tType: %s\n", dev.Type)
		fmt.Printf("\t\tVRAM Total %d\n", dev.VRAM_Total)
		fmt.Printf("\t\tVRAM Free %d\n", dev.VRAM_Free)
		fmt.Printf("\t\tTorch VRAM Total %d\n", dev.Torch_VRAM_Total)
		fmt.Printf("\t\tTorch VRAM Free %d\n", dev.Torch_VRAM_Free)
	}
	return nil
}

func main() {
	clientaddr, clientport, wait := procCLI()
	ctx := context.Background()

	// stats only need HTTP, the websocket is never opened
	c := client.NewComfyClient(clientaddr, clientport, nil)

	if wait > 0 {
		probe := engine.NewServer(engine.ServerOptions{ReadyTimeout: wait}, c)
		if err := probe.WaitReady(ctx); err != nil {
			slog.Error("ComfyUI is not reachable", "address", c.BaseAddress(), "error", err)
			os.Exit(1)
		}
	}

	if err := displaySystemStats(ctx, c); err != nil {
		slog.Error("Error getting system stats", "address", c.BaseAddress(), "error", err)
		os.Exit(1)
	}
}
