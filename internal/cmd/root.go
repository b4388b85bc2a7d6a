package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	cliflag "github.com/tomasbasham/cli-runtime/flag"
	"github.com/tomasbasham/cli-runtime/iooption"
	"github.com/tomasbasham/cli-runtime/printer"
	"github.com/tomasbasham/cli-runtime/templates"
)

var (
	rootLong = templates.LongDesc(`
		Upload files to a content delivery storage root.

		The serve command runs the upload service; the upload command is a
		client for it.`)

	rootExamples = templates.Examples(`
		# Run the service
		cdn serve --config appsettings.yaml

		# Upload a file to it
		cdn upload images logo.png ./logo.png`)

	// Injected at build time using ldflags.
	version = ""
	commit  = ""
)

// CDNOptions defines the options for the `cdn` command.
type CDNOptions struct {
	iooption.IOStreams
}

// NewCDNOptions provides an initialised CDNOptions instance.
func NewCDNOptions(streams iooption.IOStreams) *CDNOptions {
	return &CDNOptions{
		IOStreams: streams,
	}
}

// NewRootCommand creates the `cdn` command with default arguments.
func NewRootCommand() *cobra.Command {
	options := NewCDNOptions(iooption.IOStreams{
		In:     os.Stdin,
		Out:    os.Stdout,
		ErrOut: os.Stderr,
	})

	return NewRootCommandWithArgs(options)
}

// NewRootCommandWithArgs creates the `cdn` command and its nested
// children.
func NewRootCommandWithArgs(o *CDNOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:                   "cdn [command]",
		Version:               versionInfo(),
		DisableFlagsInUseLine: true,
		Short:                 "Content delivery upload service and client",
		Long:                  rootLong,
		Example:               rootExamples,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}

	// The global normalisation function ensures that all flags specified meet
	// the desired format, changing users' input if necessary and warning
	// when it does.
	printerOpts := printer.WarningPrinterOptions{Color: true}
	printer := printer.NewWarningPrinter(o.ErrOut, printerOpts)
	cmd.SetGlobalNormalizationFunc(cliflag.WarnWordSepNormalizeFunc(printer))

	cmd.AddCommand(NewServeCommand(NewServeOptions()))
	cmd.AddCommand(NewUploadCommand(NewUploadOptions(o.IOStreams)))

	return cmd
}

func versionInfo() string {
	if version == "" {
		return ""
	}
	return fmt.Sprintf("%s (commit: %s)", version, commit)
}
