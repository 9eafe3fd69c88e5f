package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var gasCmd = &cobra.Command{
	Use:   "gas <chainId>",
	Short: "Print the current gas price of a chain",
	Args:  cobra.ExactArgs(1),
	RunE:  runGas,
}

var gasJSON bool

func init() {
	rootCmd.AddCommand(gasCmd)
	gasCmd.Flags().BoolVar(&gasJSON, "json", false, "Output the gas price as JSON")
}

var weiPerGwei = decimal.New(1, 9)

func runGas(cmd *cobra.Command, args []string) error {
	chainID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("chain id %q is not an integer", args[0])
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := buildApp(cmd.Context(), cfg, buildOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	gas, err := a.gateway.GasPrice(cmd.Context(), chainID)
	if err != nil {
		return err
	}

	if gasJSON {
		return json.NewEncoder(os.Stdout).Encode(gas)
	}

	name := strconv.FormatInt(chainID, 10)
	if info, ok := a.gateway.Info(chainID); ok {
		name = info.Name
	}
	fmt.Printf("%s: %s gwei (base %s, priority %s)\n", name,
		gas.Price.Div(weiPerGwei).StringFixed(2),
		gas.BaseFee.Div(weiPerGwei).StringFixed(2),
		gas.PriorityFee.Div(weiPerGwei).StringFixed(2))
	return nil
}
