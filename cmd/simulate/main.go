package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"

	"github.com/SpreadSolvers/simulator/internal/simulator"
)

type config struct {
	CacheDir string `envconfig:"CACHE_DIR" default:"data/slots"`
	RPCURL   string `envconfig:"RPC_URL"`
	Verbose  bool   `envconfig:"VERBOSE" default:"false"`
}

func main() {
	_ = godotenv.Load()

	var cfg config
	if err := envconfig.Process("sim", &cfg); err != nil {
		log.Fatalf("failed to read config: %v", err)
	}

	user := flag.String("user", "", "caller address (0x...)")
	token := flag.String("token", "", "ERC20 the caller synthetically holds (0x...)")
	to := flag.String("to", "", "target contract (0x...)")
	calldata := flag.String("calldata", "0x", "hex calldata for the target")
	amount := flag.String("amount", "0", "synthetic token balance, decimal")
	chainID := flag.Uint64("chain-id", 1, "chain id, selects the slot cache partition")
	rpcURL := flag.String("rpc-url", cfg.RPCURL, "JSON-RPC endpoint")
	flag.Parse()

	if *user == "" || *token == "" || *to == "" {
		log.Fatal("Usage: simulate --user <addr> --token <addr> --to <addr> [--calldata 0x..] [--amount N] [--chain-id N] --rpc-url <url>")
	}
	if *rpcURL == "" {
		log.Fatal("no RPC endpoint; pass --rpc-url or set SIM_RPC_URL")
	}

	logger := logrus.StandardLogger()
	if cfg.Verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	params, err := simulator.ParseParams(*user, *token, *to, *calldata, *amount)
	if err != nil {
		log.Fatalf("bad params: %v", err)
	}

	sim := simulator.New(cfg.CacheDir, logger.WithField("module", "simulator"))
	defer sim.Close()

	result := sim.Simulate(context.Background(), params, *chainID, *rpcURL)

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		log.Fatalf("marshal result: %v", err)
	}
	fmt.Println(string(out))

	if result.Status == simulator.StatusError {
		os.Exit(1)
	}
}
