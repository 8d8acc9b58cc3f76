package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	appI18n "github.com/pavelanni/analytics/internal/i18n"
	"github.com/pavelanni/analytics/internal/metrics"
	"github.com/pavelanni/analytics/internal/model"
	"github.com/pavelanni/analytics/internal/observability"
	"github.com/pavelanni/analytics/internal/store"
)

func recomputeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recompute",
		Short: "Recompute and store metrics for an instance or one student",
		RunE:  runRecompute,
	}
	f := cmd.Flags()
	f.String("instance", "", "Deployment instance ID (required)")
	f.String("student", "", "Only recompute this student")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addStoreFlags(cmd)
	addSourceFlags(cmd)
	addCommonFlags(cmd)
	_ = cmd.MarkFlagRequired("instance")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export cached metrics of an instance as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("instance", "", "Deployment instance ID (required)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addStoreFlags(cmd)
	addCommonFlags(cmd)
	_ = cmd.MarkFlagRequired("instance")
	return cmd
}

func contractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contract",
		Short: "Show, initialize or import the analytics contract",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the current analytics contract",
		RunE:  runContractShow,
	}
	show.Flags().StringP("output", "o", "-", "Output file path (- for stdout)")
	addStoreFlags(show)
	addCommonFlags(show)

	initC := &cobra.Command{
		Use:   "init",
		Short: "Print the built-in contract, optionally saving it as current",
		RunE:  runContractInit,
	}
	initC.Flags().Bool("save", false, "Also save it as the current contract")
	initC.Flags().StringP("output", "o", "-", "Output file path (- for stdout)")
	addStoreFlags(initC)
	addCommonFlags(initC)

	imp := &cobra.Command{
		Use:   "import",
		Short: "Validate a YAML or JSON contract file and save it as current",
		RunE:  runContractImport,
	}
	imp.Flags().StringP("file", "f", "", "Contract file (YAML or JSON, required)")
	addStoreFlags(imp)
	addCommonFlags(imp)
	_ = imp.MarkFlagRequired("file")

	cmd.AddCommand(show, initC, imp)
	return cmd
}

func runRecompute(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	if err := appI18n.Init(v.GetString("lang")); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	st, err := openStore(v)
	if err != nil {
		return err
	}
	defer st.Close()

	engine := newEngine(v, st, observability.New())
	instanceID := v.GetString("instance")

	var results []model.AnalyticsMetrics
	if studentID := v.GetString("student"); studentID != "" {
		m, err := engine.ComputeForStudent(ctx, instanceID, studentID, true)
		if err != nil {
			return fmt.Errorf("recompute student %s: %w", studentID, err)
		}
		results = []model.AnalyticsMetrics{m}
	} else {
		results, err = engine.ComputeForInstance(ctx, instanceID, true)
		if err != nil {
			return fmt.Errorf("recompute instance %s: %w", instanceID, err)
		}
	}

	if err := writeJSON(v.GetString("output"), results); err != nil {
		return err
	}
	fmt.Fprintln(cmd.ErrOrStderr(), appI18n.Tp(ctx, "StudentsRecomputed", len(results)))
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	st, err := openStore(v)
	if err != nil {
		return err
	}
	defer st.Close()

	exp, err := store.ExportInstance(cmd.Context(), st, v.GetString("instance"), time.Now())
	if err != nil {
		return fmt.Errorf("export instance: %w", err)
	}
	slog.Info("exported cached metrics", "instance_id", exp.InstanceID, "count", exp.Count)
	return writeJSON(v.GetString("output"), exp)
}

func runContractShow(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	st, err := openStore(v)
	if err != nil {
		return err
	}
	defer st.Close()

	c, err := metrics.NewContracts(st).Current(cmd.Context())
	if err != nil {
		return err
	}
	return writeJSON(v.GetString("output"), c)
}

func runContractInit(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	c := metrics.DefaultContract(func(id string) string { return appI18n.T(ctx, id) })

	if v.GetBool("save") {
		st, err := openStore(v)
		if err != nil {
			return err
		}
		defer st.Close()
		if c, err = metrics.NewContracts(st).Save(ctx, c); err != nil {
			return fmt.Errorf("save contract: %w", err)
		}
		slog.Info("default contract saved", "id", c.ID, "lang", lang)
	}
	return writeJSON(v.GetString("output"), c)
}

func runContractImport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	c, err := readContract(v.GetString("file"))
	if err != nil {
		return err
	}

	st, err := openStore(v)
	if err != nil {
		return err
	}
	defer st.Close()

	saved, err := metrics.NewContracts(st).Save(cmd.Context(), c)
	if err != nil {
		return fmt.Errorf("import contract: %w", err)
	}
	slog.Info("contract imported", "id", saved.ID,
		"qualitative", len(saved.Qualitative), "quantitative", len(saved.Quantitative))
	return nil
}

// readContract decodes a YAML or JSON contract file. JSON is valid YAML.
func readContract(path string) (model.AnalyticsContract, error) {
	var c model.AnalyticsContract
	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("read contract file: %w", err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("parse contract file %s: %w", path, err)
	}
	return c, nil
}

func writeJSON(outPath string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)
	return nil
}
