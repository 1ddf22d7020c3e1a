package language

// DefaultSpecs is the stock language set.
func DefaultSpecs() []Spec {
	cxx := func(id, std string) Spec {
		return Spec{
			ID: id, Name: "GNU G++ " + std, Extension: "cpp",
			SourceFile: "main.cpp", BinaryFile: "main",
			BuildCmd: "g++ -O2 -pipe -static -std=" + std + " -o {bin} {src}",
			RunCmd:   "./{bin}",
		}
	}
	cc := func(id, std string) Spec {
		return Spec{
			ID: id, Name: "GNU GCC " + std, Extension: "c",
			SourceFile: "main.c", BinaryFile: "main",
			BuildCmd: "gcc -O2 -pipe -static -std=" + std + " -o {bin} {src} -lm",
			RunCmd:   "./{bin}",
		}
	}
	return []Spec{
		{
			ID: "ASM", Name: "GNU Assembly Language", Extension: "s",
			SourceFile: "main.s", BinaryFile: "main",
			BuildCmd: "gcc -nostdlib -static -o {bin} {src}",
			RunCmd:   "./{bin}",
		},
		cc("C99", "c99"),
		cc("C11", "c11"),
		cxx("C++11", "c++11"),
		cxx("C++14", "c++14"),
		cxx("C++17", "c++17"),
		cxx("C++20", "c++20"),
		{
			ID: "Python2", Name: "Python v2.7", Extension: "py",
			SourceFile: "main.py", RunCmd: "python2 {src}",
		},
		{
			ID: "Python3", Name: "Python v3", Extension: "py",
			SourceFile: "main.py", RunCmd: "python3 {src}",
		},
		{
			ID: "Java8", Name: "Java 8", Extension: "java",
			SourceFile: "Main.java", BinaryFile: "Main",
			BuildCmd: "javac -encoding UTF-8 {src}",
			RunCmd:   "java -Xss64m -cp . {bin}",
		},
	}
}

// Default returns a registry of DefaultSpecs.
func Default() *Registry {
	r, err := NewRegistry(DefaultSpecs())
	if err != nil {
		panic(err)
	}
	return r
}
