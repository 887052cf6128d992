// Command polyjuice-ctl issues ad hoc JSON-RPC requests against a running
// polyjuice-daemon, for operational debugging from the shell.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "polyjuice-ctl",
		Usage: "inspect a running polyjuice-daemon over JSON-RPC",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "rpc",
				Value: "http://127.0.0.1:8214",
				Usage: "daemon JSON-RPC endpoint",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "block-number",
				Usage: "print the indexer tip height",
				Action: func(c *cli.Context) error {
					return call(c, "eth_blockNumber", nil)
				},
			},
			{
				Name:      "balance",
				Usage:     "print an address's balance in wei",
				ArgsUsage: "ADDRESS [BLOCK]",
				Action: func(c *cli.Context) error {
					if c.NArg() < 1 {
						return cli.Exit("balance: ADDRESS argument required", 2)
					}
					params := []interface{}{c.Args().Get(0)}
					if c.NArg() > 1 {
						params = append(params, c.Args().Get(1))
					}
					return call(c, "eth_getBalance", params)
				},
			},
			{
				Name:      "nonce",
				Usage:     "print an address's next transaction count",
				ArgsUsage: "ADDRESS [BLOCK]",
				Action: func(c *cli.Context) error {
					if c.NArg() < 1 {
						return cli.Exit("nonce: ADDRESS argument required", 2)
					}
					params := []interface{}{c.Args().Get(0)}
					if c.NArg() > 1 {
						params = append(params, c.Args().Get(1))
					}
					return call(c, "eth_getTransactionCount", params)
				},
			},
			{
				Name:  "call",
				Usage: "execute a read-only contract call",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "to", Required: true, Usage: "contract address"},
					&cli.StringFlag{Name: "from", Usage: "caller address"},
					&cli.StringFlag{Name: "data", Usage: "0x-prefixed calldata"},
					&cli.StringFlag{Name: "block", Value: "latest", Usage: "block tag"},
				},
				Action: func(c *cli.Context) error {
					callObj := map[string]string{"to": c.String("to")}
					if v := c.String("from"); v != "" {
						callObj["from"] = v
					}
					if v := c.String("data"); v != "" {
						callObj["data"] = v
					}
					return call(c, "eth_call", []interface{}{callObj, c.String("block")})
				},
			},
			{
				Name:      "receipt",
				Usage:     "print a transaction receipt",
				ArgsUsage: "TXHASH",
				Action: func(c *cli.Context) error {
					if c.NArg() < 1 {
						return cli.Exit("receipt: TXHASH argument required", 2)
					}
					return call(c, "eth_getTransactionReceipt", []interface{}{c.Args().Get(0)})
				},
			},
			{
				Name:      "send",
				Usage:     "submit a raw signed Ethereum transaction",
				ArgsUsage: "RAWHEX",
				Action: func(c *cli.Context) error {
					if c.NArg() < 1 {
						return cli.Exit("send: RAWHEX argument required", 2)
					}
					return call(c, "eth_sendRawTransaction", []interface{}{c.Args().Get(0)})
				},
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// call posts one request and prints the raw result JSON.
func call(c *cli.Context, method string, params []interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return err
	}
	httpClient := &http.Client{Timeout: 30 * time.Second}
	resp, err := httpClient.Post(c.String("rpc"), "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var rr rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return err
	}
	if rr.Error != nil {
		return cli.Exit(fmt.Sprintf("%s: %s (%d)", method, rr.Error.Message, rr.Error.Code), 1)
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, rr.Result, "", "  "); err != nil {
		fmt.Println(string(rr.Result))
		return nil
	}
	fmt.Println(pretty.String())
	return nil
}
