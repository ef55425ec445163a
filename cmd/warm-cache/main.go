package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"github.com/SpreadSolvers/simulator/internal/eth"
	"github.com/SpreadSolvers/simulator/internal/simulator"
)

// ParquetRow is one token to pre-discover; Symbol is informational only
type ParquetRow struct {
	Address string `parquet:"name=address, type=BYTE_ARRAY, convertedtype=UTF8"`
	Symbol  string `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
}

type config struct {
	CacheDir string `envconfig:"CACHE_DIR" default:"data/slots"`
	RPCURL   string `envconfig:"RPC_URL"`
}

// probe holder for discovery; any EOA works since the balance slot layout is
// a property of the contract, not the holder
var defaultProbe = common.HexToAddress("0x6698192C6e70186ebE73E2785aC85a8f5B85b052")

func main() {
	_ = godotenv.Load()

	var cfg config
	if err := envconfig.Process("sim", &cfg); err != nil {
		log.Fatalf("failed to read config: %v", err)
	}

	parquetFile := flag.String("file", "", "Path to parquet token list (address, symbol)")
	chainID := flag.Uint64("chain-id", 1, "chain id")
	rpcURL := flag.String("rpc-url", cfg.RPCURL, "JSON-RPC endpoint")
	probe := flag.String("probe", defaultProbe.Hex(), "probe holder address")
	flag.Parse()

	if *rpcURL == "" {
		log.Fatal("no RPC endpoint; pass --rpc-url or set SIM_RPC_URL")
	}

	tokens := make(map[common.Address]string)
	if *parquetFile == "" {
		fmt.Println("no --file given, warming known mainnet tokens")
		for sym, addr := range eth.KnownTokens {
			tokens[addr] = sym
		}
	} else {
		fmt.Printf("Reading token list from %s...\n", *parquetFile)

		fr, err := local.NewLocalFileReader(*parquetFile)
		if err != nil {
			log.Fatalf("Failed to open parquet file: %v", err)
		}
		defer fr.Close()

		pr, err := reader.NewParquetReader(fr, new(ParquetRow), 4)
		if err != nil {
			log.Fatalf("Failed to create parquet reader: %v", err)
		}
		defer pr.ReadStop()

		numRows := int(pr.GetNumRows())
		rows := make([]ParquetRow, numRows)
		if err := pr.Read(&rows); err != nil {
			log.Fatalf("Failed to read rows: %v", err)
		}

		for _, row := range rows {
			if !common.IsHexAddress(row.Address) {
				log.Printf("Warning: skipping bad address %q (%s)", row.Address, row.Symbol)
				continue
			}
			tokens[common.HexToAddress(row.Address)] = row.Symbol
		}
	}

	fmt.Printf("Warming slot cache for %d tokens on chain %d...\n", len(tokens), *chainID)

	client, err := eth.Dial(*rpcURL)
	if err != nil {
		log.Fatalf("Failed to dial RPC: %v", err)
	}
	defer client.Close()

	sim := simulator.New(cfg.CacheDir, logrus.StandardLogger().WithField("module", "warm-cache"))
	defer sim.Close()

	ctx := context.Background()
	probeAddr := common.HexToAddress(*probe)
	start := time.Now()
	warmed, failed := 0, 0

	for addr, sym := range tokens {
		rec, err := sim.DiscoverAndCache(ctx, client, addr, probeAddr, *chainID)
		if err != nil {
			failed++
			log.Printf("  %s %s: discovery failed: %v", sym, addr.Hex(), err)
			continue
		}
		warmed++
		fmt.Printf("  %s %s: %s mapping, base slot %s\n", sym, addr.Hex(), rec.Layout, rec.BaseSlot.Hex())
	}

	fmt.Printf("Done: %d warmed, %d failed in %s\n", warmed, failed, time.Since(start).Round(time.Millisecond))
}
