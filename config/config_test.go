package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kylelemons/godebug/pretty"
	"go.viam.com/test"

	"github.com/beamline/viewscreen/calibration"
	"github.com/beamline/viewscreen/logging"
	"github.com/beamline/viewscreen/pipeline"
)

const sampleConfig = `{
	"config_dir": "calibrations",
	"document": "screen1.xml",
	"watch_document": true,
	"map_dirs": [
		{"geometry": "EMBT", "light_distribution": "Lambertian", "dir": "maps/embt_lambertian"},
		{"geometry": "ehbt", "light_distribution": "otr", "dir": "/data/maps/ehbt_otr"}
	],
	"stages": [
		{"name": "geometric", "type": "geometric", "attributes": {"max_contributors": 12}},
		{"name": "efficiency", "type": "efficiency", "attributes": {"target": 1, "iris_diameter": 20}},
		{"name": "stats", "type": "beam_stats"}
	],
	"log": {"level": "debug"}
}`

func TestFromReader(t *testing.T) {
	cfg, err := FromReader("/etc/viewscreen/viewscreen.json", strings.NewReader(sampleConfig))
	test.That(t, err, test.ShouldBeNil)

	want := &Config{
		ConfigDir:     "/etc/viewscreen/calibrations",
		Document:      "screen1.xml",
		WatchDocument: true,
		MapDirs: []MapDir{
			{Geometry: "EMBT", LightDistribution: "Lambertian", Dir: "/etc/viewscreen/calibrations/maps/embt_lambertian"},
			{Geometry: "ehbt", LightDistribution: "otr", Dir: "/data/maps/ehbt_otr"},
		},
		Stages: []pipeline.StageConfig{
			{Name: "geometric", Type: pipeline.KindGeometric, Attributes: map[string]interface{}{"max_contributors": 12.0}},
			{Name: "efficiency", Type: pipeline.KindEfficiency, Attributes: map[string]interface{}{"target": 1.0, "iris_diameter": 20.0}},
			{Name: "stats", Type: pipeline.KindBeamStats},
		},
		Log:            LogConfig{Level: logging.DEBUG},
		ConfigFilePath: "/etc/viewscreen/viewscreen.json",
	}
	if diff := pretty.Compare(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}

	paths := cfg.RepositoryPaths()
	test.That(t, paths.Resolve("screen1.xml"), test.ShouldEqual, "/etc/viewscreen/calibrations/screen1.xml")
	dir, ok := paths.MapDir(calibration.GeometryEMBT, "lambertian")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, dir, test.ShouldEqual, "/etc/viewscreen/calibrations/maps/embt_lambertian")
	_, ok = paths.MapDir(calibration.GeometryELBT, "otr")
	test.That(t, ok, test.ShouldBeFalse)

	logger := cfg.NewLogger("viewscreen")
	test.That(t, logger.GetLevel(), test.ShouldEqual, logging.DEBUG)
}

func TestReadExpandsEnvironment(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("VIEWSCREEN_CALIBRATIONS", dir)
	path := filepath.Join(t.TempDir(), "viewscreen.json")
	content := `{"config_dir": "${VIEWSCREEN_CALIBRATIONS}", "stages": [{"name": "config", "type": "viewscreen_config"}]}`
	test.That(t, os.WriteFile(path, []byte(content), 0o600), test.ShouldBeNil)

	cfg, err := Read(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.ConfigDir, test.ShouldEqual, dir)
	test.That(t, cfg.Log.Level, test.ShouldEqual, logging.INFO)

	_, err = Read(filepath.Join(dir, "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name string
		json string
		err  string
	}{
		{"bad json", `{"config_dir": `, "failed to decode Config from json"},
		{"no config dir", `{"stages": [{"name": "a", "type": "geometric"}]}`, `"config_dir" is required`},
		{"no stages", `{"config_dir": "."}`, `"stages" is required`},
		{
			"unknown geometry",
			`{"config_dir": ".", "map_dirs": [{"geometry": "xbt", "light_distribution": "otr", "dir": "x"}],
			"stages": [{"name": "a", "type": "geometric"}]}`,
			"unsupported geometry",
		},
		{
			"map dir without directory",
			`{"config_dir": ".", "map_dirs": [{"geometry": "elbt", "light_distribution": "otr"}],
			"stages": [{"name": "a", "type": "geometric"}]}`,
			`"dir" is required`,
		},
		{
			"duplicate stage",
			`{"config_dir": ".", "stages": [{"name": "a", "type": "geometric"}, {"name": "a", "type": "beam_stats"}]}`,
			`duplicate stage name "a"`,
		},
		{"bad stage", `{"config_dir": ".", "stages": [{"name": "a", "type": "sharpen"}]}`, `unknown stage type "sharpen"`},
		{"bad level", `{"config_dir": ".", "stages": [{"name": "a", "type": "geometric"}], "log": {"level": "loud"}}`, "unknown log level"},
		{
			"watch without document",
			`{"config_dir": ".", "watch_document": true, "stages": [{"name": "a", "type": "geometric"}]}`,
			"no document to watch",
		},
		{
			"log file without path",
			`{"config_dir": ".", "stages": [{"name": "a", "type": "geometric"}], "log": {"file": {"max_size_mb": 5}}}`,
			`"file.path" is required`,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromReader("", strings.NewReader(tc.json))
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.err)
		})
	}
}

func TestSchema(t *testing.T) {
	out, err := json.Marshal(Schema())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(out), test.ShouldContainSubstring, "config_dir")
	test.That(t, string(out), test.ShouldContainSubstring, "light_distribution")
}
