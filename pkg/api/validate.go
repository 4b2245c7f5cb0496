package api

// Validate checks the pipeline configuration for errors.
func (c *PipelineConfig) Validate() error {
	if len(c.Flows) == 0 {
		return invalidf("no flows defined")
	}

	for flowName, flow := range c.Flows {
		if flow == nil || len(flow.Steps) == 0 {
			return invalidf("flow %q has no steps", flowName)
		}
		for i, step := range flow.Steps {
			if step.Name == "" {
				return invalidf("flow %q: step %d: name is required", flowName, i)
			}
			for _, key := range step.RelativeSecrets {
				if key == "" {
					return invalidf("flow %q: step %q: empty relative secret key", flowName, step.Name)
				}
			}
		}
	}

	return nil
}

// Flow returns the named flow.
func (c *PipelineConfig) Flow(name string) (*Flow, error) {
	flow, ok := c.Flows[name]
	if !ok {
		return nil, invalidf("unknown flow %q", name)
	}
	return flow, nil
}
