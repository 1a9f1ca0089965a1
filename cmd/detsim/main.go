// Command detsim runs a lane detector scenario: it builds the lanes and
// detectors of a scenario file, drives the configured demand through them
// and exports the detector histories.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"

	"github.com/prometheus/common/expfmt"

	"github.com/banshee-data/lanedetect/internal/config"
	"github.com/banshee-data/lanedetect/internal/monitoring"
	"github.com/banshee-data/lanedetect/internal/report"
	"github.com/banshee-data/lanedetect/internal/store"
	"github.com/banshee-data/lanedetect/internal/version"
)

var (
	configPath  = flag.String("config", config.DefaultConfigPath, "path to scenario JSON file")
	dbPath      = flag.String("db", "", "sqlite database to export the run into (optional)")
	htmlPath    = flag.String("html", "", "write an HTML dashboard of flow and area occupancy (optional)")
	pngPath     = flag.String("png", "", "write a PNG plot of loop mean speeds (optional)")
	showMetrics = flag.Bool("metrics", false, "print run metrics in prometheus text format")
	showVersion = flag.Bool("version", false, "print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := config.LoadScenarioConfig(*configPath)
	if err != nil {
		log.Fatalf("load scenario: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	metrics := monitoring.NewMetrics()
	s, err := build(cfg, metrics)
	if err != nil {
		log.Fatalf("build scenario %s: %v", cfg.GetName(), err)
	}
	monitoring.Logf("running %s for %v (%s)", cfg.GetName(), cfg.GetDuration(), version.String())
	if err := s.run(ctx); err != nil {
		log.Fatalf("run: %v", err)
	}
	monitoring.Logf("released %d vehicles, %d finished, %d callback failures",
		s.driver.Released(), s.driver.Finished(), s.queue.Failures())

	printSummaries(os.Stdout, s.summaries())

	if *dbPath != "" {
		st, err := store.Open(*dbPath)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		runID, err := s.export(st)
		st.Close()
		if err != nil {
			log.Fatalf("export: %v", err)
		}
		fmt.Printf("exported run %s to %s\n", runID, *dbPath)
	}

	if *htmlPath != "" {
		if err := writeDashboard(*htmlPath, cfg.GetName(), s); err != nil {
			log.Fatalf("dashboard: %v", err)
		}
	}
	if *pngPath != "" {
		if err := report.WriteSpeedPlot(*pngPath, s.loopSeries(), cfg.GetSpeedUnits()); err != nil {
			log.Fatalf("speed plot: %v", err)
		}
	}

	if *showMetrics {
		if err := writeMetrics(os.Stdout, metrics); err != nil {
			log.Fatalf("metrics: %v", err)
		}
	}
}

func writeDashboard(path, title string, s *simulation) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := report.WriteDashboard(f, title, s.loopSeries(), s.areaSeries()); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func printSummaries(w io.Writer, summaries []report.Summary) {
	for _, sm := range summaries {
		fmt.Fprintf(w, "%-12s periods=%d (partial %d) vehicles=%d flow=%.0f±%.0f veh/h peak=%.0f speed=%.1f p85=%.1f %s\n",
			sm.DetectorID, sm.Periods, sm.Partial, sm.Vehicles, sm.MeanFlow, sm.StdFlow, sm.PeakFlow,
			sm.MeanSpeed, sm.P85Speed, sm.SpeedUnits)
	}
}

func writeMetrics(w io.Writer, m *monitoring.Metrics) error {
	families, err := m.Registry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
