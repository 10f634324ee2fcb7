package main

import (
	"skillendorse/chaincode/contract"
)

func main() {
	cc, err := contract.NewChaincode()
	if err != nil {
		panic("Error creating skill endorsement chaincode: " + err.Error())
	}
	if err := cc.Start(); err != nil {
		panic("Error starting chaincode: " + err.Error())
	}
}
