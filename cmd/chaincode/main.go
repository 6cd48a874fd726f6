package main

import (
	"log/slog"
	"os"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/ryanbastic/go-diary/internal/chaincode"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cc, err := contractapi.NewChaincode(&chaincode.TravelDiary{})
	if err != nil {
		logger.Error("failed to create chaincode", "error", err)
		os.Exit(1)
	}
	cc.Info.Title = "TravelDiary"
	cc.Info.Version = "1.0.0"

	if err := cc.Start(); err != nil {
		logger.Error("chaincode stopped", "error", err)
		os.Exit(1)
	}
}
