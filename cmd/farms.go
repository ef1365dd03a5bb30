package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/agri-ai/farm-monitor/internal/model"
	"github.com/agri-ai/farm-monitor/internal/registry"
)

var farmsCmd = &cobra.Command{
	Use:   "farms",
	Short: "Manage the farm registry",
}

var farmsImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Upsert farms from a YAML fixture",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		path, _ := cmd.Flags().GetString("file")

		st, err := openStore(ctx, "farms")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := registry.ImportFile(ctx, st, path)
		if err != nil {
			return err
		}
		fmt.Printf("Imported %d farms from %s\n", n, path)
		return nil
	},
}

var farmsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered farms",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx, "farms")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		farms, err := st.ListFarms(ctx)
		if err != nil {
			return eris.Wrap(err, "list farms")
		}
		formatFarms(os.Stdout, farms)
		return nil
	},
}

var farmsShowCmd = &cobra.Command{
	Use:   "show <farm-id>",
	Short: "Print one farm as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx, "farms")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		f, err := st.GetFarm(ctx, args[0])
		if err != nil {
			return eris.Wrapf(err, "get farm %s", args[0])
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(f)
	},
}

var farmsDeleteCmd = &cobra.Command{
	Use:   "delete <farm-id>",
	Short: "Remove a farm from the registry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx, "farms")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.DeleteFarm(ctx, args[0]); err != nil {
			return eris.Wrapf(err, "delete farm %s", args[0])
		}
		fmt.Printf("Deleted farm %s\n", args[0])
		return nil
	},
}

func formatFarms(out io.Writer, farms []model.Farm) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FARM\tNAME\tCROP\tLOCATION\tCONTACT\tCONDITIONS")
	for _, f := range farms {
		contact := f.Contact.Email
		if contact == "" {
			contact = f.Contact.Phone
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%.4f,%.4f\t%s\t%s\n",
			f.ID,
			dash(f.Name),
			dash(f.CropType),
			f.Location.Lat, f.Location.Lon,
			dash(contact),
			dash(strings.Join(f.ConditionKeys(), ",")),
		)
	}
	_ = w.Flush()
	fmt.Fprintf(out, "\n%d farms\n", len(farms))
}

func init() {
	farmsImportCmd.Flags().String("file", "testdata/farms.yaml", "YAML fixture to import")
	farmsCmd.AddCommand(farmsImportCmd, farmsListCmd, farmsShowCmd, farmsDeleteCmd)
	rootCmd.AddCommand(farmsCmd)
}
