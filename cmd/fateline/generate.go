package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ternarybob/fateline/internal/app"
	"github.com/ternarybob/fateline/internal/common"
	"github.com/ternarybob/fateline/internal/models"
	"github.com/ternarybob/fateline/internal/services/calendar"
	"github.com/ternarybob/fateline/internal/services/export"
	"github.com/ternarybob/fateline/internal/services/fate"
	"github.com/ternarybob/fateline/internal/services/kline"
)

var (
	generateInputPath  string
	generateOutputPath string
	generateFormat     string
	generateMode       string
	generateExportPath string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Build a K-line offline from a JSON or YAML file",
	Long: `Runs the K-line engine on facts (rule walk) or candidate items (repair) read
from a JSON or YAML file. No model is called. When the file carries a birth
request the chart supplies the year and period labels.`,
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().StringVarP(&generateInputPath, "input", "i", "", "Input file (JSON or YAML)")
	generateCmd.Flags().StringVarP(&generateOutputPath, "output", "o", "", "Output file (default stdout)")
	generateCmd.Flags().StringVar(&generateFormat, "format", "json", "Output format: json or yaml")
	generateCmd.Flags().StringVar(&generateMode, "mode", "", "rules or repair (overrides the input file)")
	generateCmd.Flags().StringVar(&generateExportPath, "export", "", "Also render the series to a .pdf or .html file")
	_ = generateCmd.MarkFlagRequired("input")
}

// generateInput is the offline input document
type generateInput struct {
	Mode      string                `yaml:"mode"`
	RequestID string                `yaml:"requestId"`
	Baseline  *int                  `yaml:"baseline"`
	Length    int                   `yaml:"length"`
	Seed      *int64                `yaml:"seed"`
	Birth     *models.BirthRequest  `yaml:"birth"`
	Facts     []kline.YearlyFact    `yaml:"facts"`
	Items     []kline.CandidateItem `yaml:"items"`
}

// generateOutput is what generate prints
type generateOutput struct {
	Mode      string           `json:"mode" yaml:"mode"`
	Baseline  int              `json:"baseline" yaml:"baseline"`
	Seed      int64            `json:"seed" yaml:"seed"`
	BaZiInfo  *models.BaZiInfo `json:"baziInfo,omitempty" yaml:"baziInfo,omitempty"`
	KLineData []kline.Point    `json:"kLineData" yaml:"kLineData"`
	Summary   kline.Summary    `json:"summary" yaml:"summary"`
}

// parseGenerateInput decodes JSON or YAML; JSON is accepted as YAML
func parseGenerateInput(data []byte) (*generateInput, error) {
	var in generateInput
	if err := yaml.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("failed to parse input: %w", err)
	}
	if in.Birth != nil {
		if err := in.Birth.Validate(); err != nil {
			return nil, err
		}
	}
	return &in, nil
}

// resolveMode picks the walk: an explicit mode wins, then facts without items
// select the rule walk, anything else is repaired.
func resolveMode(in *generateInput, override string) (string, error) {
	mode := strings.ToLower(strings.TrimSpace(override))
	if mode == "" {
		mode = strings.ToLower(strings.TrimSpace(in.Mode))
	}
	switch mode {
	case models.KLineModeRules, "repair":
		return mode, nil
	case "":
		if len(in.Facts) > 0 && len(in.Items) == 0 {
			return models.KLineModeRules, nil
		}
		return "repair", nil
	default:
		return "", fmt.Errorf("unknown mode %q (want rules or repair)", mode)
	}
}

// buildOffline runs the engine for one input document
func buildOffline(in *generateInput, mode string, engine *kline.Engine, cfg common.EngineConfig) (*generateOutput, error) {
	out := &generateOutput{Mode: mode, Baseline: fate.DefaultBaseline}
	if in.Baseline != nil {
		out.Baseline = *in.Baseline
	}

	switch {
	case in.Seed != nil:
		out.Seed = *in.Seed
	case cfg.FixedSeed:
		out.Seed = cfg.Seed
	default:
		out.Seed = kline.SeedFromRequestID(in.RequestID)
	}

	opts := kline.Options{
		Length:   in.Length,
		Baseline: out.Baseline,
		Noise:    kline.NewSeededNoise(out.Seed),
	}

	if in.Birth != nil {
		bazi, err := calendar.Calculate(in.Birth)
		if err != nil {
			return nil, err
		}
		out.BaZiInfo = bazi
		opts.Labels = calendar.NewLabeler(bazi)
	}

	var err error
	if mode == models.KLineModeRules {
		if opts.Length == 0 {
			opts.Length = cfg.RuleLength
		}
		out.KLineData, err = engine.Build(in.Facts, opts)
	} else {
		if opts.Length == 0 {
			opts.Length = cfg.RepairLength
		}
		out.KLineData, err = engine.Normalize(in.Items, opts)
	}
	if err != nil {
		return nil, err
	}

	if err := kline.CheckInvariants(out.KLineData, engine.Rules(), out.Baseline); err != nil {
		return nil, err
	}

	out.Summary, err = kline.Summarize(out.KLineData)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// writeGenerateOutput encodes out as json or yaml
func writeGenerateOutput(w io.Writer, out *generateOutput, format string) error {
	switch strings.ToLower(format) {
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(out); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q (want json or yaml)", format)
	}
}

// exportOffline renders the series by file extension
func exportOffline(path string, out *generateOutput, exporter *export.Service) error {
	doc := &models.ExportDocument{
		RequestID: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		BaZi:      out.BaZiInfo,
		Points:    out.KLineData,
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		data, err = exporter.RenderPDF(doc)
	case ".html", ".htm":
		data, err = exporter.RenderHTML(doc)
	default:
		return fmt.Errorf("unsupported export extension %q (want .pdf or .html)", filepath.Ext(path))
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	data, err := os.ReadFile(generateInputPath)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	in, err := parseGenerateInput(data)
	if err != nil {
		return err
	}
	mode, err := resolveMode(in, generateMode)
	if err != nil {
		return err
	}

	rules, err := app.LoadRules(config.Engine.RulesFile)
	if err != nil {
		return err
	}
	engine, err := kline.NewEngine(rules)
	if err != nil {
		return err
	}

	out, err := buildOffline(in, mode, engine, config.Engine)
	if err != nil {
		return err
	}

	logger.Debug().
		Str("input", generateInputPath).
		Str("mode", mode).
		Int("points", len(out.KLineData)).
		Int("final_close", out.Summary.FinalClose).
		Msg("K-line generated")

	if generateExportPath != "" {
		if err := exportOffline(generateExportPath, out, export.NewService(config.Export, logger)); err != nil {
			return fmt.Errorf("export failed: %w", err)
		}
		logger.Debug().Str("path", generateExportPath).Msg("Export written")
	}

	w := cmd.OutOrStdout()
	if generateOutputPath != "" {
		f, err := os.Create(generateOutputPath)
		if err != nil {
			return fmt.Errorf("failed to create output: %w", err)
		}
		defer f.Close()
		w = f
	}
	return writeGenerateOutput(w, out, generateFormat)
}
