package tools

// llvmDir is the LLVM toolchain shipped inside the static analysis bundle.
const llvmDir = "C-Tools/StaticAnalysis/LLVM-20.1.0-Linux-X64"

var knownTools = []ToolID{
	ToolCBMC, ToolKLEEMA, ToolKLEETX, ToolMCDCTX, ToolSCMCCCBMC, ToolStaticAnalysis,
	ToolESBMC, ToolDSE, ToolAFL,
}

func file() Slot          { return Slot{Kind: SlotFile} }
func optionalBound() Slot { return Slot{Kind: SlotBound, Optional: true} }

func singleStage(id ToolID, lang Language, script string, args ...Slot) Descriptor {
	return Descriptor{
		ID:       id,
		Language: lang,
		Stages:   []Stage{{Name: string(id), Script: script, Args: args}},
	}
}

// defaultDescriptors is the install layout of the TrustInn bundle. Argument
// order is part of each script's contract.
func defaultDescriptors() []Descriptor {
	cbmc := singleStage(ToolCBMC, LanguageC, "C-Tools/CBMC/run.sh", file(), optionalBound())

	static := Descriptor{
		ID:       ToolStaticAnalysis,
		Language: LanguageC,
		Stages: []Stage{
			{
				Name:   "clang",
				Script: "C-Tools/StaticAnalysis/clang.sh",
				Args:   []Slot{{Kind: SlotInstallPath, Path: llvmDir}, file()},
			},
			{
				Name:   "frama-c",
				Script: "C-Tools/StaticAnalysis/run-Framma-C.sh",
				Args:   []Slot{file()},
			},
		},
	}

	esbmc := singleStage(ToolESBMC, LanguagePython, "Python-Tools/ESBMC/run.sh", file())
	esbmc.Stderr = StderrHidden

	afl := singleStage(ToolAFL, LanguagePython, "Python-Tools/AFL/run.sh", file(), Slot{Kind: SlotInputDir})
	afl.Streaming = true

	return []Descriptor{
		cbmc,
		singleStage(ToolKLEEMA, LanguageC, "C-Tools/KLEEMA/run.sh", file()),
		singleStage(ToolKLEETX, LanguageC, "C-Tools/KLEE-TX/run.sh", file()),
		singleStage(ToolMCDCTX, LanguageC, "C-Tools/MCDC-TX/run.sh", file()),
		singleStage(ToolSCMCCCBMC, LanguageC, "C-Tools/SC-MCC-CBMC/run.sh", file(), optionalBound()),
		static,
		esbmc,
		singleStage(ToolDSE, LanguagePython, "Python-Tools/DSE/dse_run.sh", file()),
		afl,
	}
}
