package mlmodel

// Sample is one labelled training text
type Sample struct {
	Text string
	Real bool
}

// TrainingCorpus returns the synthetic corpus the toy network is trained on
func TrainingCorpus() []Sample {
	fakeNews := []string{
		"SHOCKING miracle cure doctors don't want you to know about this secret",
		"You won't believe what this one weird trick can do for your health",
		"BREAKING conspiracy exposed government cover-up revealed by insider",
		"Amazing discovery that will change everything doctors hate this",
		"Incredible secret big pharma doesn't want revealed to the public",
		"Stunning revelation about hidden truth they tried to suppress",
		"Explosive evidence of massive cover-up finally leaked to media",
		"Unbelievable cure that pharmaceutical companies tried to ban",
		"Mind-blowing secret that will shock you to your core today",
		"Devastating truth about what they've been hiding from us",
	}
	realNews := []string{
		"Department of Health announces new vaccination program according to official sources",
		"University researchers published peer-reviewed study in medical journal",
		"Government spokesperson confirmed policy implementation based on expert analysis",
		"Scientific evidence shows effectiveness of treatment in clinical trials",
		"Ministry officials reported findings from comprehensive investigation",
		"Research institute published data analysis in academic publication",
		"Health authorities confirmed safety measures following expert review",
		"Official statement released by government agency regarding new policy",
		"Medical professionals recommend treatment based on clinical evidence",
		"Academic researchers present findings at international conference",
	}

	samples := make([]Sample, 0, len(fakeNews)+len(realNews))
	for _, t := range fakeNews {
		samples = append(samples, Sample{Text: t})
	}
	for _, t := range realNews {
		samples = append(samples, Sample{Text: t, Real: true})
	}
	return samples
}
