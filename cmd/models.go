package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/iksnae/opencode-sync/internal"
	"github.com/spf13/cobra"
)

var modelsSet string

// modelsCmd represents the models command
var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List available models and choose one for sending",
	Long: `List the providers and models offered by the server. The model used by
'send' and 'watch --interactive' is marked with *.

Use --set provider/model to change it; the choice is remembered.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmdContext(cmd)
		e, err := setup(nil)
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.connect(ctx); err != nil {
			return err
		}
		providers, err := e.orch.Providers(ctx)
		if err != nil {
			return fmt.Errorf("failed to list models: %w", err)
		}

		if modelsSet != "" {
			providerID, modelID, ok := strings.Cut(modelsSet, "/")
			if !ok || !hasModel(providers, providerID, modelID) {
				return fmt.Errorf("unknown model %q", modelsSet)
			}
			e.orch.SetModel(ctx, providerID, modelID)
			fmt.Fprintf(cmd.OutOrStdout(), "✅ Using %s/%s\n", providerID, modelID)
		}

		displayModels(cmd.OutOrStdout(), providers, e.orch.Model())
		return nil
	},
}

func hasModel(resp *internal.ProvidersResponse, providerID, modelID string) bool {
	for _, p := range resp.Providers {
		if p.ID != providerID {
			continue
		}
		_, ok := p.Models[modelID]
		return ok
	}
	return false
}

func displayModels(w io.Writer, resp *internal.ProvidersResponse, selected *internal.ModelSelection) {
	if len(resp.Providers) == 0 {
		fmt.Fprintln(w, "No providers configured on the server.")
		return
	}
	providers := append([]internal.Provider(nil), resp.Providers...)
	sort.Slice(providers, func(i, j int) bool { return providers[i].ID < providers[j].ID })

	for _, p := range providers {
		name := p.Name
		if name == "" {
			name = p.ID
		}
		fmt.Fprintln(w, titleStyle.Render(name))

		ids := make([]string, 0, len(p.Models))
		for id := range p.Models {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			mark := " "
			switch {
			case selected != nil && selected.ProviderID == p.ID && selected.ModelID == id:
				mark = "*"
			case selected == nil && resp.Default[p.ID] == id:
				mark = "·"
			}
			label := p.Models[id].Name
			if label == "" {
				label = id
			}
			fmt.Fprintf(w, "  %s %s %s\n", mark, idStyle.Render(p.ID+"/"+id), label)
		}
	}
}

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.Flags().StringVar(&modelsSet, "set", "", "Select a model as provider/model")
}
