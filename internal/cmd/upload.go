package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tomasbasham/cli-runtime/iooption"
	"github.com/tomasbasham/cli-runtime/templates"

	"github.com/tomasbasham/cdn/client"
	"github.com/tomasbasham/cdn/internal/config"
)

const defaultUploadPath = "test"

type UploadOptions struct {
	ConfigOptions

	Path      string
	FileName  string
	LocalFile string

	clientConfig config.ClientConfiguration

	iooption.IOStreams
}

var (
	uploadLong = templates.LongDesc(`
		Upload a single file to the upload service and print its name.

		PATH defaults to "test". Without FILE_NAME a random name is generated.
		Without LOCAL_FILE an empty file is uploaded. The client section of the
		configuration is required.`)

	uploadExample = templates.Examples(`
		# Upload an empty file with a random name below "test"
		cdn upload

		# Upload ./logo.png as images/logo.png
		cdn upload images logo.png ./logo.png`)
)

func NewUploadOptions(streams iooption.IOStreams) *UploadOptions {
	return &UploadOptions{
		IOStreams: streams,
	}
}

func NewUploadCommand(o *UploadOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:                   "upload [PATH] [FILE_NAME] [LOCAL_FILE]",
		DisableFlagsInUseLine: true,
		Short:                 "Upload a file to the upload service",
		Long:                  uploadLong,
		Example:               uploadExample,
		Args:                  cobra.MaximumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			if err := o.Validate(); err != nil {
				return err
			}
			if err := o.Run(); err != nil {
				return err
			}
			return nil
		},
	}

	o.ConfigOptions.AddFlags(cmd.Flags())

	return cmd
}

func (o *UploadOptions) Complete(cmd *cobra.Command, args []string) error {
	o.Path = defaultUploadPath
	if len(args) > 0 {
		o.Path = args[0]
	}
	if len(args) > 1 {
		o.FileName = args[1]
	}
	if len(args) > 2 {
		o.LocalFile = args[2]
	}
	return nil
}

func (o *UploadOptions) Validate() error {
	cfg, err := o.Load()
	if err != nil {
		return err
	}
	clientConfig, err := cfg.ClientConfiguration()
	if err != nil {
		return err
	}
	o.clientConfig = clientConfig
	return nil
}

func (o *UploadOptions) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := client.New(client.Configuration{ServiceAddress: o.clientConfig.ServiceAddress})
	if err != nil {
		return err
	}

	var content io.ReadSeeker = bytes.NewReader(nil)
	if o.LocalFile != "" {
		f, err := os.Open(o.LocalFile)
		if err != nil {
			return fmt.Errorf("failed to open %q: %w", o.LocalFile, err)
		}
		defer f.Close()
		content = f
	}

	fileName := o.FileName
	if fileName == "" {
		fileName, err = c.UploadFileWithRandomName(ctx, &client.RandomNameFileUpload{
			Path:    o.Path,
			Content: content,
		})
	} else {
		err = c.UploadFile(ctx, &client.FileUpload{
			Path:     o.Path,
			FileName: fileName,
			Content:  content,
		})
	}
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}

	fmt.Fprintln(o.Out, fileName)
	return nil
}
