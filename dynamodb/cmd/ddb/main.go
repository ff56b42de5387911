// ddb manages the DynamoDB tables declared in a schema file.
//
// # Installation
//
//	go install github.com/acksell/ddbmodel/dynamodb/cmd/ddb@latest
//
// # Commands
//
//	ddb create    Create declared tables that do not exist yet
//	ddb update    Bring throughput and global indexes in line with the schema
//	ddb plan      Print the changes update would make
//	ddb describe  Print the live description of declared tables
//	ddb list      List the tables in the namespace
//
// Connection settings come from DYNAMODB_* environment variables and an
// optional .env file. Pass -local to work against a BadgerDB directory instead.
package main

import (
	"fmt"
	"os"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	// Remove the subcommand from args so flag parsing works
	os.Args = append([]string{os.Args[0]}, os.Args[2:]...)

	var err error
	switch cmd {
	case "create":
		err = runCreate()
	case "update":
		err = runUpdate()
	case "plan":
		err = runPlan()
	case "describe":
		err = runDescribe()
	case "list", "ls":
		err = runList()
	case "help", "-h", "--help":
		printUsage()
		return
	case "version", "-v", "--version":
		fmt.Printf("ddb version %s\n", version)
		return
	default:
		fmt.Fprintf(os.Stderr, "ddb: unknown command %q\n\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "ddb %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`ddb - DynamoDB table management

Usage:
  ddb <command> [flags]

Commands:
  create    Create declared tables that do not exist yet
  update    Bring throughput and global indexes in line with the schema
  plan      Print the changes update would make
  describe  Print the live description of declared tables
  list      List the tables in the namespace

Examples:
  # Create every table in tables.yaml against DynamoDB Local:
  DYNAMODB_NAMESPACE=dev_ DYNAMODB_HOST=localhost DYNAMODB_PORT=8000 ddb create

  # Preview index changes for one table:
  ddb plan -table orders

  # Work against a local BadgerDB directory:
  ddb update -local ./data -namespace dev_

Configuration (optional):
  Create ddb.yaml for command defaults:

    schema: ./tables.yaml   # schema file
    envFile: .env           # connection settings
    local: ./data           # BadgerDB directory

Run 'ddb <command> --help' for more information on a command.`)
}
