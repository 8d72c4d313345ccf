// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// cfgFile is the --config flag shared by every subcommand.
var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "streamgw",
	Short: "Streaming gateway for the Gemini generate-content API",
	Long: `streamgw accepts plain HTTP/1.1 requests carrying a JSON chat payload,
rewrites them into streamGenerateContent calls against the upstream API over
TLS and relays the chunked response to the client as it arrives.

Every connection is a suspendable session task; blocking socket operations
are parked on a fixed worker queue instead of holding a goroutine.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: search streamgw.yaml, then $STREAMGW_CONFIG)")
}
