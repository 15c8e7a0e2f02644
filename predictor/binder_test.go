package predictor

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richinsley/comfypredict/graphapi"
)

const templatePath = "../graphapi/testdata/workflow_api.json"

func loadTemplate(t *testing.T) graphapi.Workflow {
	t.Helper()
	wf, err := graphapi.NewWorkflowFromJsonFile(templatePath)
	require.NoError(t, err)
	return wf
}

func input(t *testing.T, wf graphapi.Workflow, id, name string) interface{} {
	t.Helper()
	v, err := wf.GetInput(id, name)
	require.NoError(t, err)
	return v
}

func catParams() Params {
	p := DefaultParams()
	p.Prompt = "a cat"
	p.AspectRatio = "1:1"
	p.GuidanceScale = 7
	p.NumInferenceSteps = 50
	p.Denoise = 1
	p.HighNumInferenceSteps = 50
	p.HighDenoise = 0.4
	return p.WithSeed(42)
}

func TestAspectRatioTable(t *testing.T) {
	expected := map[string]Dimensions{
		"1:1":  {1024, 1024},
		"16:9": {1344, 768},
		"21:9": {1536, 640},
		"3:2":  {1216, 832},
		"2:3":  {832, 1216},
		"4:5":  {896, 1088},
		"5:4":  {1088, 896},
		"3:4":  {896, 1152},
		"4:3":  {1152, 896},
		"9:16": {768, 1344},
		"9:21": {640, 1536},
	}
	require.Len(t, AspectRatioLabels(), len(expected))
	for _, label := range AspectRatioLabels() {
		d, err := LookupAspectRatio(label)
		require.NoError(t, err)
		assert.Equal(t, expected[label], d, label)
	}

	_, err := LookupAspectRatio("7:5")
	assert.ErrorIs(t, err, ErrUnknownAspectRatio)
}

func TestBindCatScenario(t *testing.T) {
	wf, err := Bind(loadTemplate(t), DefaultRoles(), catParams())
	require.NoError(t, err)

	assert.Equal(t, 1024, input(t, wf, "68", "width"))
	assert.Equal(t, 1024, input(t, wf, "68", "height"))
	assert.Equal(t, "a cat", input(t, wf, "6", "text"))
	assert.Equal(t, "", input(t, wf, "7", "text"))

	assert.Equal(t, int64(42), input(t, wf, "3", "seed"))
	assert.Equal(t, 7.0, input(t, wf, "3", "cfg"))
	assert.Equal(t, 50, input(t, wf, "3", "steps"))
	assert.Equal(t, 1.0, input(t, wf, "3", "denoise"))

	assert.Equal(t, int64(42), input(t, wf, "50", "seed"))
	assert.Equal(t, 7.0, input(t, wf, "50", "cfg"))
	assert.Equal(t, 50, input(t, wf, "50", "steps"))
	assert.Equal(t, 0.4, input(t, wf, "50", "denoise"))
}

func TestBindPortraitAspectRatio(t *testing.T) {
	p := catParams()
	p.AspectRatio = "9:16"
	wf, err := Bind(loadTemplate(t), DefaultRoles(), p)
	require.NoError(t, err)

	assert.Equal(t, 768, input(t, wf, "68", "width"))
	assert.Equal(t, 1344, input(t, wf, "68", "height"))
}

func TestBindSharesSeedAndGuidance(t *testing.T) {
	for _, label := range AspectRatioLabels() {
		p := catParams()
		p.AspectRatio = label
		p.GuidanceScale = 3.5
		p.NumInferenceSteps = 30
		p.HighNumInferenceSteps = 12
		p.Denoise = 0.9
		p.HighDenoise = 0.25
		p = p.WithSeed(9001)

		wf, err := Bind(loadTemplate(t), DefaultRoles(), p)
		require.NoError(t, err)

		dims, _ := LookupAspectRatio(label)
		assert.Equal(t, dims.Width, input(t, wf, "68", "width"))
		assert.Equal(t, dims.Height, input(t, wf, "68", "height"))

		assert.Equal(t, input(t, wf, "3", "seed"), input(t, wf, "50", "seed"))
		assert.Equal(t, int64(9001), input(t, wf, "50", "seed"))
		assert.Equal(t, input(t, wf, "3", "cfg"), input(t, wf, "50", "cfg"))
		assert.Equal(t, 3.5, input(t, wf, "50", "cfg"))

		assert.Equal(t, 30, input(t, wf, "3", "steps"))
		assert.Equal(t, 0.9, input(t, wf, "3", "denoise"))
		assert.Equal(t, 12, input(t, wf, "50", "steps"))
		assert.Equal(t, 0.25, input(t, wf, "50", "denoise"))
	}
}

func TestBindDoesNotMutateTemplate(t *testing.T) {
	template := loadTemplate(t)
	pristine := template.Clone()

	first, err := Bind(template, DefaultRoles(), catParams())
	require.NoError(t, err)

	p := catParams().WithSeed(7)
	p.Prompt = "a dog"
	p.AspectRatio = "21:9"
	second, err := Bind(template, DefaultRoles(), p)
	require.NoError(t, err)

	if diff := cmp.Diff(pristine, template); diff != "" {
		t.Errorf("template changed by binding (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(pristine, loadTemplate(t)); diff != "" {
		t.Errorf("template file changed by binding (-want +got):\n%s", diff)
	}

	assert.Equal(t, int64(42), input(t, first, "3", "seed"))
	assert.Equal(t, "a cat", input(t, first, "6", "text"))
	assert.Equal(t, int64(7), input(t, second, "3", "seed"))
	assert.Equal(t, "a dog", input(t, second, "6", "text"))
	assert.Equal(t, 1536, input(t, second, "68", "width"))
}

func TestBindLeavesOtherFieldsAlone(t *testing.T) {
	template := loadTemplate(t)
	wf, err := Bind(template, DefaultRoles(), catParams())
	require.NoError(t, err)

	touched := map[string][]string{
		"68": {"width", "height"},
		"6":  {"text"},
		"7":  {"text"},
		"3":  {"seed", "steps", "cfg", "denoise"},
		"50": {"seed", "steps", "cfg", "denoise"},
	}
	for _, id := range template.NodeIDs() {
		expected := template[id].Inputs
		got := wf[id].Inputs
		require.Len(t, got, len(expected), "node %s input count", id)
		for name, v := range expected {
			skip := false
			for _, n := range touched[id] {
				if n == name {
					skip = true
				}
			}
			if skip {
				continue
			}
			assert.Equal(t, v, got[name], "node %s input %s", id, name)
		}
		assert.Equal(t, template[id].ClassType, wf[id].ClassType)
	}
}

func TestBindMissingNodeFails(t *testing.T) {
	template := loadTemplate(t)
	delete(template, "50")

	wf, err := Bind(template, DefaultRoles(), catParams())
	assert.Nil(t, wf)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.ErrorIs(t, err, ErrMissingNode)
	assert.Contains(t, err.Error(), "refiner_sampler")
}

func TestBindRoleOnWrongNodeFails(t *testing.T) {
	roles := DefaultRoles()
	// the VAE decoder has no text input
	roles[RolePositivePrompt] = "8"

	wf, err := Bind(loadTemplate(t), roles, catParams())
	assert.Nil(t, wf)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.ErrorIs(t, err, graphapi.ErrInputNotFound)
}

func TestBindRefusesToOverwriteLinks(t *testing.T) {
	template := loadTemplate(t)
	template["6"].Inputs["text"] = []interface{}{"99", float64(0)}

	wf, err := Bind(template, DefaultRoles(), catParams())
	assert.Nil(t, wf)
	assert.ErrorIs(t, err, graphapi.ErrLinkInput)
}

func TestBindRequiresResolvedSeed(t *testing.T) {
	p := catParams()
	p.Seed = nil
	_, err := Bind(loadTemplate(t), DefaultRoles(), p)
	assert.ErrorIs(t, err, ErrSeedUnresolved)
}

func TestBindUnknownAspectRatio(t *testing.T) {
	p := catParams()
	p.AspectRatio = "1:2"
	_, err := Bind(loadTemplate(t), DefaultRoles(), p)
	assert.ErrorIs(t, err, ErrUnknownAspectRatio)
}

func TestRolesFromMap(t *testing.T) {
	roles, err := RolesFromMap(map[string]string{"base_sampler": "10", "dimensions": "5"})
	require.NoError(t, err)
	assert.Equal(t, "10", roles.NodeID(RoleBaseSampler))

	_, err = RolesFromMap(map[string]string{"upscaler": "12"})
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestRolesResolveReportsEveryProblem(t *testing.T) {
	roles := DefaultRoles()
	delete(roles, RoleDimensions)
	roles[RoleNegativePrompt] = "404"

	err := roles.Resolve(loadTemplate(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimensions (unmapped)")
	assert.Contains(t, err.Error(), "negative_prompt (node 404)")
}
