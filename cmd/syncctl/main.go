// cmd/syncctl is the CLI entry-point built with Cobra for operating a
// file-sync coordinator.
//
// Usage:
//
//	syncctl nodes register n1 --name laptop --address 127.0.0.1 --port 9000
//	syncctl nodes list                           --server http://localhost:8080
//	syncctl files upload f1 ./report.pdf --owner n1
//	syncctl files download f1 ./out.pdf
//	syncctl files history f1
//	syncctl conflicts list
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"filesync-coordinator/internal/client"
	"filesync-coordinator/internal/coordinator"
	"filesync-coordinator/internal/delta"
)

var (
	serverAddr string
	timeout    time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "syncctl",
		Short: "Operator CLI for the file-sync coordinator",
	}

	root.PersistentFlags().StringVarP(&serverAddr, "server", "s",
		"http://localhost:8080", "Coordinator address")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second,
		"HTTP request timeout")

	root.AddCommand(nodesCmd(), filesCmd(), conflictsCmd(), topologyCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// ─── nodes ───────────────────────────────────────────────────────────────

func nodesCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "nodes", Short: "Node management"}

	var name, address string
	var port int
	register := &cobra.Command{
		Use:   "register <node_id>",
		Short: "Register a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			res, err := c.RegisterNode(context.Background(), coordinator.RegisterNodeRequest{
				NodeID: args[0], Name: name, Address: address, Port: port,
			})
			if err != nil {
				return err
			}
			return prettyPrint(res)
		},
	}
	register.Flags().StringVar(&name, "name", "", "Display name")
	register.Flags().StringVar(&address, "address", "", "Node address")
	register.Flags().IntVar(&port, "port", 0, "Node port")

	list := &cobra.Command{
		Use:   "list",
		Short: "List registered nodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			nodes, err := c.ListNodes(context.Background())
			if err != nil {
				return err
			}
			return prettyPrint(nodes)
		},
	}

	remove := &cobra.Command{
		Use:   "remove <node_id>",
		Short: "Remove a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			return c.RemoveNode(context.Background(), args[0])
		},
	}

	cmd.AddCommand(register, list, remove)
	return cmd
}

// ─── files ───────────────────────────────────────────────────────────────

func filesCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "files", Short: "File operations"}

	var owner, fileName string
	upload := &cobra.Command{
		Use:   "upload <file_id> <path>",
		Short: "Upload a file's current contents as a new version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			name := fileName
			if name == "" {
				name = args[1]
			}
			c := client.New(serverAddr, timeout)
			res, err := c.UploadFile(context.Background(), coordinator.UploadFileRequest{
				FileID:       args[0],
				Name:         name,
				OwnerNodeID:  owner,
				Content:      content,
				DeclaredHash: delta.StrongHash(content),
			})
			if err != nil {
				return err
			}
			return prettyPrint(res)
		},
	}
	upload.Flags().StringVar(&owner, "owner", "", "Owning node id")
	upload.Flags().StringVar(&fileName, "name", "", "Display name (defaults to the local path)")

	download := &cobra.Command{
		Use:   "download <file_id> <dest_path>",
		Short: "Download a file's current content to dest_path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			data, err := c.DownloadFile(context.Background(), args[0])
			if err != nil {
				return err
			}
			return os.WriteFile(args[1], data, 0o644)
		},
	}

	var requester string
	del := &cobra.Command{
		Use:   "delete <file_id>",
		Short: "Soft-delete a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			return c.DeleteFile(context.Background(), args[0], requester)
		},
	}
	del.Flags().StringVar(&requester, "requester", "", "Requesting node id")

	restore := &cobra.Command{
		Use:   "restore <file_id> <version_id>",
		Short: "Restore an earlier version as the current one",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			v, err := c.RestoreVersion(context.Background(), args[0], args[1], requester)
			if err != nil {
				return err
			}
			return prettyPrint(v)
		},
	}
	restore.Flags().StringVar(&requester, "requester", "", "Requesting node id")

	history := &cobra.Command{
		Use:   "history <file_id>",
		Short: "Show a file's full version chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			h, err := c.GetFileHistory(context.Background(), args[0])
			if err != nil {
				return err
			}
			return prettyPrint(h)
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List files",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			files, err := c.ListFiles(context.Background(), owner, false)
			if err != nil {
				return err
			}
			return prettyPrint(files)
		},
	}
	list.Flags().StringVar(&owner, "owner", "", "Filter by owning node id")

	cmd.AddCommand(upload, download, del, restore, history, list)
	return cmd
}

// ─── conflicts ───────────────────────────────────────────────────────────

func conflictsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "conflicts", Short: "Conflict inspection and resolution"}

	list := &cobra.Command{
		Use:   "list",
		Short: "List unresolved conflicts",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			conflicts, err := c.ListConflicts(context.Background())
			if err != nil {
				return err
			}
			return prettyPrint(conflicts)
		},
	}

	var strategy, resolvedVersion string
	resolve := &cobra.Command{
		Use:   "resolve <conflict_id>",
		Short: "Resolve a conflict",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			return c.ResolveConflict(context.Background(), args[0], strategy, resolvedVersion)
		},
	}
	resolve.Flags().StringVar(&strategy, "strategy", "last_writer_wins", "Resolution strategy")
	resolve.Flags().StringVar(&resolvedVersion, "version", "", "Version id the conflict resolves to")

	cmd.AddCommand(list, resolve)
	return cmd
}

func topologyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "topology",
		Short: "Show the current node/file topology",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			topo, err := c.GetTopology(context.Background())
			if err != nil {
				return err
			}
			return prettyPrint(topo)
		},
	}
}

func prettyPrint(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return nil
	}
	fmt.Println(string(data))
	return nil
}
