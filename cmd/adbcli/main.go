package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"adb-host-go/pkg/adb"
)

func main() {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:           "adbcli",
		Short:         "Client for the ADB host-server wire protocol.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	pf.String("host", "localhost", "ADB server host")
	pf.IntP("port", "P", 5037, "ADB server port")
	pf.StringP("serial", "s", "", "target device serial")
	pf.Duration("timeout", 0, "per-command I/O deadline (0 disables)")
	viper.BindPFlag(adb.KeyHost, pf.Lookup("host"))
	viper.BindPFlag(adb.KeyPort, pf.Lookup("port"))
	viper.BindPFlag(adb.KeySerial, pf.Lookup("serial"))
	viper.BindPFlag(adb.KeyTimeout, pf.Lookup("timeout"))

	newHost := func() *adb.Host {
		logger := zap.NewNop()
		if verbose {
			logger, _ = zap.NewDevelopment()
		}
		return adb.NewHost(adb.OptionsFromViper(), logger)
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Prints the ADB server protocol version.",
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := newHost().Version()
			if err != nil {
				return err
			}
			fmt.Printf("Android Debug Bridge version %d\n", version)
			return nil
		},
	}

	var devicesLong bool
	devicesCmd := &cobra.Command{
		Use:   "devices",
		Short: "Lists connected devices.",
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := newHost().ListDevices(devicesLong)
			if err != nil {
				return err
			}
			for _, d := range devices {
				if d.Path != "" {
					fmt.Printf("%s\t%s\t%s\n", d.Serial, d.State, d.Path)
				} else {
					fmt.Printf("%s\t%s\n", d.Serial, d.State)
				}
			}
			return nil
		},
	}
	devicesCmd.Flags().BoolVarP(&devicesLong, "long", "l", false, "include device paths")

	killCmd := &cobra.Command{
		Use:   "kill-server",
		Short: "Kills the running ADB server.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return newHost().Kill()
		},
	}

	shellCmd := &cobra.Command{
		Use:   "shell <command> [args...]",
		Short: "Runs a command on the device and prints its output.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := newHost().Execute(args...)
			if err != nil {
				return err
			}
			defer conn.Close()

			_, err = io.Copy(os.Stdout, adb.NewTransformReader(conn.GetParser().Raw()))
			return err
		},
	}

	connectCmd := &cobra.Command{
		Use:   "connect <host>[:port]",
		Short: "Connects to a device over TCP.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			host, port, err := splitHostPort(args[0])
			if err != nil {
				return err
			}
			msg, err := newHost().Connect(host, port)
			if err != nil {
				return err
			}
			fmt.Println(msg)
			return nil
		},
	}

	disconnectCmd := &cobra.Command{
		Use:   "disconnect <host>[:port]",
		Short: "Disconnects a TCP device.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			host, port, err := splitHostPort(args[0])
			if err != nil {
				return err
			}
			msg, err := newHost().Disconnect(host, port)
			if err != nil {
				return err
			}
			fmt.Println(msg)
			return nil
		},
	}

	lsCmd := &cobra.Command{
		Use:   "ls <path>",
		Short: "Lists a directory on the device.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := newHost().Entries(args[0])
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Printf("%06o %10d %s %s\n",
					e.Mode(), e.Size(), e.ModTime().Format("2006-01-02 15:04"), e.Name())
			}
			return nil
		},
	}

	statCmd := &cobra.Command{
		Use:   "stat <path>",
		Short: "Prints file status for a device path.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := newHost().Stat(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("mode %06o size %d mtime %s\n",
				stats.Mode(), stats.Size(), stats.ModTime().Format("2006-01-02 15:04:05"))
			return nil
		},
	}

	var pushMode uint32
	pushCmd := &cobra.Command{
		Use:   "push <local> <remote>",
		Short: "Uploads a file to the device.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newHost().PushFile(args[0], args[1], os.FileMode(pushMode))
		},
	}
	pushCmd.Flags().Uint32Var(&pushMode, "mode", 0, "file mode on the device (default: local mode)")

	pullCmd := &cobra.Command{
		Use:   "pull <remote> <local>",
		Short: "Downloads a file from the device.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := newHost().PullFile(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("%d bytes pulled\n", n)
			return nil
		},
	}

	readCmd := &cobra.Command{
		Use:   "read <path>",
		Short: "Dumps a device file to stdout via the minimal RECV body.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newHost().ReadFile(args[0])
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(data)
			return err
		},
	}

	var writeFileMode uint32
	writeCmd := &cobra.Command{
		Use:   "write <path>",
		Short: "Sends the minimal SEND request for a device path.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := newHost().WriteFile(args[0], writeFileMode)
			if err != nil {
				return err
			}
			os.Stdout.Write(out)
			return nil
		},
	}
	writeCmd.Flags().Uint32Var(&writeFileMode, "mode", 0, "file mode on the device")

	trackCmd := &cobra.Command{
		Use:   "track-devices",
		Short: "Prints the device list every time it changes.",
		RunE: func(cmd *cobra.Command, args []string) error {
			tracker, err := newHost().TrackDevices()
			if err != nil {
				return err
			}
			defer tracker.Stop()

			for devices := range tracker.Updates() {
				for _, d := range devices {
					fmt.Printf("%s\t%s\n", d.Serial, d.State)
				}
				fmt.Println("----")
			}
			return tracker.Err()
		},
	}

	rebootCmd := &cobra.Command{
		Use:   "reboot [bootloader]",
		Short: "Reboots the device, optionally into the bootloader.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h := newHost()
			if len(args) == 1 && args[0] == "bootloader" {
				_, err := h.RebootBootloader()
				return err
			}
			_, err := h.Reboot()
			return err
		},
	}

	verityCmd := &cobra.Command{
		Use:   "verity <enable|disable>",
		Short: "Toggles dm-verity on the device.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h := newHost()
			var out []byte
			var err error
			switch args[0] {
			case "enable":
				out, err = h.EnableVerity()
			case "disable":
				out, err = h.DisableVerity()
			default:
				return fmt.Errorf("unknown verity action %q", args[0])
			}
			if err != nil {
				return err
			}
			os.Stdout.Write(out)
			return nil
		},
	}

	for _, def := range []struct {
		use, short string
		run        func(h *adb.Host) ([]byte, error)
	}{
		{"remount", "Remounts the system partitions read-write.", (*adb.Host).Remount},
		{"root", "Restarts adbd with root permissions.", (*adb.Host).Root},
		{"unroot", "Restarts adbd without root permissions.", (*adb.Host).Unroot},
		{"reconnect", "Kicks the current device connection.", (*adb.Host).Reconnect},
	} {
		run := def.run
		rootCmd.AddCommand(&cobra.Command{
			Use:   def.use,
			Short: def.short,
			RunE: func(cmd *cobra.Command, args []string) error {
				out, err := run(newHost())
				if err != nil {
					return err
				}
				os.Stdout.Write(out)
				return nil
			},
		})
	}

	pubkeyConvertCmd := &cobra.Command{
		Use:   "pubkey-convert <file>",
		Short: "Converts an ADB-generated public key into PEM format.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			key, err := adb.ParsePublicKey(data)
			if err != nil {
				return err
			}

			format, _ := cmd.Flags().GetString("format")
			switch format {
			case "pem":
				pem, err := adb.PublicKeyToPem(key)
				if err != nil {
					return err
				}
				fmt.Print(pem)
			case "openssh":
				fmt.Println(adb.PublicKeyToOpenSSH(key, "adbkey"))
			default:
				return fmt.Errorf("unsupported format %q", format)
			}
			return nil
		},
	}
	pubkeyConvertCmd.Flags().StringP("format", "f", "pem", "format (pem or openssh)")

	pubkeyFingerprintCmd := &cobra.Command{
		Use:   "pubkey-fingerprint <file>",
		Short: "Outputs the fingerprint of an ADB-generated public key.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			key, err := adb.ParsePublicKey(data)
			if err != nil {
				return err
			}
			fmt.Printf("%s %s\n", key.Fingerprint, key.Comment)
			return nil
		},
	}

	rootCmd.AddCommand(versionCmd, devicesCmd, killCmd, shellCmd, connectCmd,
		disconnectCmd, lsCmd, statCmd, pushCmd, pullCmd, readCmd, writeCmd, trackCmd,
		rebootCmd, verityCmd, pubkeyConvertCmd, pubkeyFingerprintCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "adbcli: %v\n", err)
		os.Exit(1)
	}
}

// splitHostPort 解析host[:port]，端口缺省为0（由客户端填5555）
func splitHostPort(arg string) (string, int, error) {
	host := arg
	port := 0
	if idx := strings.LastIndex(arg, ":"); idx >= 0 {
		host = arg[:idx]
		p, err := strconv.Atoi(arg[idx+1:])
		if err != nil {
			return "", 0, fmt.Errorf("invalid port in %q", arg)
		}
		port = p
	}
	return host, port, nil
}
