package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/bigbag/image-switcher/internal/crc24"
	"github.com/bigbag/image-switcher/internal/detect"
	"github.com/bigbag/image-switcher/internal/flash"
	"github.com/bigbag/image-switcher/internal/footer"
	"github.com/bigbag/image-switcher/internal/probe"
	"github.com/bigbag/image-switcher/internal/protocol"
	"github.com/bigbag/image-switcher/internal/serial"
	"github.com/bigbag/image-switcher/internal/switcher"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Default footer addresses: two 512 KiB slots in a 1 MiB part.
var defaultFooters = []string{"0x0007FFF8", "0x000FFFF8"}

var (
	portFlag     string
	baudFlag     int
	baseFlag     uint32
	footerFlags  []string
	writeFlag    bool
	verboseFlag  bool
	verifyFlag   bool
	bootFlag     bool
	imageVersion uint8
	outputFlag   string
	sizeFlag     uint32
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "switcher",
		Short: "Inspect and select A/B firmware images",
		Long: `Switcher manages firmware images laid out as [image][footer] in flash.

Each footer carries a CRC-24 of its image, a version, the image length and
one-way status bits. The selector verifies every slot, records the verdict in
the footer and picks the newest bootable image.

Commands operate on a flash dump file when one is given, otherwise on a
target reached over a serial port.`,
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&portFlag, "port", "p", "", "Serial port (auto-detect if not specified)")
	pf.IntVarP(&baudFlag, "baud", "b", protocol.DefaultBaudRate, "Baud rate")
	pf.Uint32Var(&baseFlag, "base", 0, "Flash address of the first byte of a dump file")
	pf.StringSliceVar(&footerFlags, "footer", defaultFooters, "Footer address of each slot (repeatable)")
	pf.BoolVar(&writeFlag, "write", false, "Save footer updates back to the dump file")
	pf.BoolVarP(&verboseFlag, "verbose", "v", false, "Log selector decisions to stderr")

	// CRC command
	crcCmd := &cobra.Command{
		Use:   "crc <file>",
		Short: "Print the CRC-24 of a file",
		Args:  cobra.ExactArgs(1),
		RunE:  runCRC,
	}

	// Pack command
	packCmd := &cobra.Command{
		Use:   "pack <image.bin>",
		Short: "Append a fresh footer to an image",
		Long: `Append a footer to an image so it can be written to a slot.

The footer is written in its erased state: not yet verified, no boot
outcome recorded and all boot attempts available. When a single --footer
address is given, the load address of the image is printed.`,
		Args: cobra.ExactArgs(1),
		RunE: runPack,
	}
	packCmd.Flags().Uint8Var(&imageVersion, "version", 0, "Image version (higher is newer)")
	packCmd.Flags().StringVarP(&outputFlag, "output", "o", "", "Output file (default <image>.slot)")
	packCmd.MarkFlagRequired("version")

	// Inspect command
	inspectCmd := &cobra.Command{
		Use:   "inspect [dump.bin]",
		Short: "Show the footer of each slot",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runInspect,
	}
	inspectCmd.Flags().BoolVar(&verifyFlag, "verify", false, "Verify each image and record the verdict")

	// Select command
	selectCmd := &cobra.Command{
		Use:   "select [dump.bin]",
		Short: "Select the image to boot",
		Long: `Verify every slot and print the image the bootloader would run.

With --boot the boot attempt is charged to the selected image and the
handoff is printed instead of taken.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runSelect,
	}
	selectCmd.Flags().BoolVar(&bootFlag, "boot", false, "Charge a boot attempt and show the handoff")

	// Mark command
	markCmd := &cobra.Command{
		Use:       "mark <success|failure> [dump.bin]",
		Short:     "Record the boot outcome of the image at the first --footer",
		Args:      cobra.RangeArgs(1, 2),
		ValidArgs: []string{"success", "failure"},
		RunE:      runMark,
	}

	// Dump command
	dumpCmd := &cobra.Command{
		Use:   "dump",
		Short: "Read target flash into a file",
		Args:  cobra.NoArgs,
		RunE:  runDump,
	}
	dumpCmd.Flags().StringVarP(&outputFlag, "output", "o", "flash.bin", "Output file")
	dumpCmd.Flags().Uint32Var(&sizeFlag, "size", 0x100000, "Number of bytes to read from --base")

	// Serve command
	serveCmd := &cobra.Command{
		Use:   "serve <dump.bin>",
		Short: "Serve a dump file as a target on a serial port",
		Long: `Answer memory requests on --port from a dump file, as the target agent
would. Programmed bits are saved back with --write on interrupt.`,
		Args: cobra.ExactArgs(1),
		RunE: runServe,
	}

	// Reset command
	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Reset the target into its application",
		Args:  cobra.NoArgs,
		RunE:  runReset,
	}

	// Detect command
	detectCmd := &cobra.Command{
		Use:   "detect",
		Short: "Find targets answering on serial ports",
		Long:  "Reset each port's target into its memory agent and report the ones that answer.",
		Args:  cobra.NoArgs,
		RunE:  runDetect,
	}

	// Version command
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "switcher %s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "  commit: %s\n", commit)
			fmt.Fprintf(cmd.OutOrStdout(), "  built:  %s\n", date)
		},
	}

	// List command
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available serial ports",
		RunE:  runList,
	}

	rootCmd.AddCommand(crcCmd, packCmd, inspectCmd, selectCmd, markCmd,
		dumpCmd, serveCmd, resetCmd, detectCmd, versionCmd, listCmd)
	return rootCmd
}

// checksumFile streams path through a CRC digest behind a progress bar.
func checksumFile(path string) (uint32, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	bar := progressbar.DefaultBytes(info.Size(), "Checksumming")
	d := crc24.New()
	n, err := io.Copy(io.MultiWriter(d, bar), f)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read %s: %w", path, err)
	}
	bar.Finish()

	return d.Sum24(), n, nil
}

func runCRC(cmd *cobra.Command, args []string) error {
	sum, n, err := checksumFile(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%06X  %s (%d bytes)\n", sum, args[0], n)
	return nil
}

func runPack(cmd *cobra.Command, args []string) error {
	imagePath := args[0]

	image, err := os.ReadFile(imagePath)
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}
	if len(image) > footer.MaxLength {
		return fmt.Errorf("image is %d bytes, footer length field holds at most %d", len(image), footer.MaxLength)
	}

	f := footer.New(crc24.Calculate(image), imageVersion, uint32(len(image)))
	fb := f.Bytes()

	out := outputFlag
	if out == "" {
		out = imagePath + ".slot"
	}
	if err := os.WriteFile(out, append(image, fb[:]...), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", out, err)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Packed %s -> %s\n", imagePath, out)
	fmt.Fprintf(w, "  Footer: %s\n", f)

	if cmd.Flags().Changed("footer") && len(footerFlags) == 1 {
		addr, err := parseAddress(footerFlags[0])
		if err != nil {
			return err
		}
		start, ok := f.StartAddress(addr)
		if !ok {
			return fmt.Errorf("image does not fit below footer 0x%08X", addr)
		}
		fmt.Fprintf(w, "  Load at 0x%08X (footer at 0x%08X)\n", start, addr)
	}
	return nil
}

func runInspect(cmd *cobra.Command, args []string) error {
	t, err := openTarget(args)
	if err != nil {
		return err
	}
	defer t.Close()

	images, err := t.images()
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Target: %s\n", t.desc)
	for i, img := range images {
		fmt.Fprintf(w, "\nSlot %d (footer at 0x%08X):\n", i, img.FooterAddress())
		f, err := img.Footer()
		if err != nil {
			fmt.Fprintf(w, "  unreadable: %v\n", err)
			continue
		}
		fmt.Fprintf(w, "  Footer:   %s\n", f)
		if start, err := img.StartAddress(); err == nil {
			fmt.Fprintf(w, "  Image:    0x%08X-0x%08X\n", start, img.FooterAddress())
		} else {
			fmt.Fprintf(w, "  Image:    %v\n", err)
		}
		if verifyFlag {
			fmt.Fprintf(w, "  Bootable: %t\n", img.VerifyBootable())
		}
	}

	if verifyFlag {
		return t.commit(w)
	}
	return nil
}

func runSelect(cmd *cobra.Command, args []string) error {
	t, err := openTarget(args)
	if err != nil {
		return err
	}
	defer t.Close()

	images, err := t.images()
	if err != nil {
		return err
	}

	var chosen *switcher.Image
	if len(images) == 2 {
		chosen = switcher.Select(images[0], images[1])
	} else {
		chosen = switcher.SelectFrom(images...)
	}

	w := cmd.OutOrStdout()
	if chosen == nil {
		fmt.Fprintln(w, "No bootable image")
		if err := t.commit(w); err != nil {
			return err
		}
		return fmt.Errorf("no bootable image among %d slots", len(images))
	}

	fmt.Fprintf(w, "Selected image v%d (footer at 0x%08X)\n", chosen.Version(), chosen.FooterAddress())

	if bootFlag {
		var jump *handedOff
		chosen, jump, err = bootWithFallback(w, chosen, images)
		if err != nil {
			if cerr := t.commit(w); cerr != nil {
				return cerr
			}
			return fmt.Errorf("boot failed: %w", err)
		}
		f, _ := chosen.Footer()
		fmt.Fprintf(w, "Handoff: sp=0x%08X pc=0x%08X\n", jump.stackPointer, jump.entry)
		fmt.Fprintf(w, "  Footer: %s\n", f)
	}

	return t.commit(w)
}

func runMark(cmd *cobra.Command, args []string) error {
	outcome := args[0]
	if outcome != "success" && outcome != "failure" {
		return fmt.Errorf("unknown outcome %q (want success or failure)", outcome)
	}

	t, err := openTarget(args[1:])
	if err != nil {
		return err
	}
	defer t.Close()

	images, err := t.images()
	if err != nil {
		return err
	}
	img := images[0]

	if outcome == "success" {
		err = img.MarkSuccess()
	} else {
		err = img.MarkFailure()
	}
	if err != nil {
		return fmt.Errorf("failed to mark %s: %w", outcome, err)
	}

	f, err := img.Footer()
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Marked %s (footer at 0x%08X): %s\n", outcome, img.FooterAddress(), f)

	return t.commit(w)
}

func runDump(cmd *cobra.Command, args []string) error {
	t, err := openDevice(portFlag, baudFlag)
	if err != nil {
		return err
	}
	defer t.Close()

	client := t.mem.(*probe.Client)
	region := flash.Region{Base: baseFlag, Size: sizeFlag}

	bar := progressbar.NewOptions(protocol.CalculateBlocks(int(region.Size)),
		progressbar.OptionSetDescription("Reading"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(100),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	client.SetProgressCallback(func(current, total int) {
		bar.Set(current)
	})

	data, err := client.Dump(region)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", region, err)
	}
	bar.Finish()

	if err := os.WriteFile(outputFlag, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", outputFlag, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved %s to %s\n", region, outputFlag)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if portFlag == "" {
		return fmt.Errorf("serve needs --port")
	}

	t, err := openDump(args[0], baseFlag)
	if err != nil {
		return err
	}

	port, err := serial.Open(portFlag, baudFlag)
	if err != nil {
		return fmt.Errorf("failed to open port: %w", err)
	}
	defer port.Close()

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Serving %s on %s @ %d baud\n", t.desc, portFlag, baudFlag)

	// Closing the port on interrupt ends Serve so the dump can be saved.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	go func() {
		<-ctx.Done()
		port.Close()
	}()

	agent := probe.NewAgent(t.arena, logger())
	if err := agent.Serve(port); err != nil && ctx.Err() == nil {
		return fmt.Errorf("agent stopped: %w", err)
	}
	return t.commit(w)
}

func runReset(cmd *cobra.Command, args []string) error {
	if portFlag == "" {
		return fmt.Errorf("reset needs --port")
	}

	port, err := serial.Open(portFlag, baudFlag)
	if err != nil {
		return fmt.Errorf("failed to open port: %w", err)
	}
	defer port.Close()

	if err := port.HardReset(); err != nil {
		return fmt.Errorf("failed to reset target: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Reset target on %s @ %d baud\n", port.PortName(), port.BaudRate())
	return nil
}

func runDetect(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()
	if portFlag != "" {
		result, err := detect.DetectOnPort(portFlag, baudFlag)
		if err != nil {
			return fmt.Errorf("failed to detect target on %s: %w", portFlag, err)
		}
		printTarget(w, result)
		return nil
	}

	fmt.Fprintln(w, "Scanning for targets...")
	targets, err := detect.ListDevices(baudFlag)
	if err != nil {
		return err
	}

	if len(targets) == 0 {
		fmt.Fprintln(w, "No targets found")
		return nil
	}

	fmt.Fprintf(w, "Found %d target(s):\n\n", len(targets))
	for i := range targets {
		fmt.Fprintf(w, "Target %d:\n", i+1)
		printTarget(w, &targets[i])
		fmt.Fprintln(w)
	}
	return nil
}

func printTarget(w io.Writer, r *detect.Result) {
	fmt.Fprintf(w, "  Port:     %s\n", r.Port)
	fmt.Fprintf(w, "  Baud:     %d\n", r.BaudRate)
}

func runList(cmd *cobra.Command, args []string) error {
	ports, err := serial.ListPorts()
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if len(ports) == 0 {
		fmt.Fprintln(w, "No serial ports found")
		return nil
	}

	fmt.Fprintln(w, "Available serial ports:")
	for _, p := range ports {
		fmt.Fprintf(w, "  %s\n", p)
	}

	return nil
}
