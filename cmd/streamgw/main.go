// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command streamgw runs the streaming gateway that relays client JSON
// requests to the Gemini generate-content API over TLS and streams the
// chunked response back.
//
// Usage:
//
//	# Start the gateway with streamgw.yaml from the search path
//	streamgw run
//
//	# Start with an explicit configuration file
//	streamgw run --config /etc/streamgw/streamgw.yaml
//
//	# Send one message through a running gateway
//	streamgw send --model gemini-1.5-flash "hello"
//
//	# Print the effective configuration
//	streamgw config
package main

func main() {
	Execute()
}
